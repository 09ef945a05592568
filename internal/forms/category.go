// Package forms holds the schema of the three intake forms, the validation
// rules applied to a submission, and the fixed spreadsheet layout each
// category is written with.
package forms

import "strings"

type FieldKind string

const (
	KindText   FieldKind = "text"
	KindDate   FieldKind = "date"
	KindNumber FieldKind = "number"
	KindChoice FieldKind = "choice"
	KindFile   FieldKind = "file"
)

const (
	Yes = "نعم"
	No  = "لا"
)

// Condition makes a field required only while another field holds Value.
type Condition struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type Field struct {
	Key          string     `json:"key"`
	Label        string     `json:"label"`
	Kind         FieldKind  `json:"kind"`
	Required     bool       `json:"required"`
	RequiredWhen *Condition `json:"requiredWhen,omitempty"`
	Min          int64      `json:"min,omitempty"`
	Options      []string   `json:"options,omitempty"`
	// Bounded restricts a date to MinDate..today.
	Bounded bool `json:"bounded,omitempty"`
}

// Category is one of the intake forms together with the spreadsheet it
// appends to.
type Category struct {
	Slug      string  `json:"slug"`
	Title     string  `json:"title"`
	MenuLabel string  `json:"menuLabel"`
	SheetName string  `json:"sheetName"`
	Fields    []Field `json:"fields"`

	// layout is the column order of the backing spreadsheet. Historical rows
	// depend on it: extend it only by appending.
	layout []string
}

const (
	SlugEmployees = "employees"
	SlugContracts = "contracts"
	SlugService   = "service"
)

// MinDate is the earliest accepted birth or appointment date.
const MinDate = "1900-01-01"

const attachmentTypesHint = "jpg, jpeg, png, webp, pdf"

var categories = []Category{
	personnelCategory(
		SlugEmployees,
		"إضافة بيانات الموظف",
		"إضافة بيانات الموظفين",
		"بيانات الموظفين",
		Field{Key: "appointment_date", Label: "تاريخ التعيين", Kind: KindDate, Required: true, Bounded: true},
		"الامر الاداري للتعيين",
	),
	personnelCategory(
		SlugContracts,
		"إضافة بيانات العقد",
		"إضافة بيانات العقود",
		"بيانات العقود",
		Field{Key: "contract_date", Label: "تاريخ التعاقد", Kind: KindDate, Required: true, Bounded: true},
		"الامر الاداري للتعاقد",
	),
	serviceCategory(),
}

func personnelCategory(slug, title, menu, sheet string, startDate Field, orderLabel string) Category {
	fields := []Field{
		text("computer_no", "رقم الحاسبة"),
		text("badge_no", "رقم الشعار"),
		text("department", "القسم"),
		text("full_name", "الإسم الرباعي واللقب"),
		text("mother_name", "اسم الأم الثلاثي"),
		{Key: "birth_date", Label: "المواليد", Kind: KindDate, Required: true, Bounded: true},
		{Key: "marital_status", Label: "متزوج", Kind: KindChoice, Required: true, Options: []string{Yes, No}},
		{Key: "marriage_contract", Label: "ارفاق عقد الزواج", Kind: KindFile, RequiredWhen: &Condition{Field: "marital_status", Value: Yes}},
		{Key: "family_count", Label: "عدد الأفراد", Kind: KindNumber, Required: true, Min: 0},
		optional("first_child", "اول طفل"),
		optional("second_child", "ثاني طفل"),
		optional("third_child", "ثالث طفل"),
		optional("fourth_child", "رابع طفل"),
		text("address", "عنوان السكن"),
		text("nearby_landmark", "أقرب نقطه دالة"),
		startDate,
		file("administrative_order", orderLabel),
		text("permit_number", "رقم التصريح"),
		file("permit_copy", "ارفاق نسخة من التصريح"),
		file("national_id_front", "ارفاق نسخة من البطاقة الوطنية/الواجهه"),
		file("national_id_back", "ارفاق نسخة من البطاقة الوطنية/الضهر"),
		file("housing_card_front", "ارفاق نسخة من بطاقه السكن/ الوجه"),
		file("housing_card_back", "ارفاق نسخة من بطاقه السكن/الضهر"),
		text("mobile", "رقم الموبايل"),
		text("data_entry_name", "اسم مدخل البيانات"),
	}
	return Category{
		Slug:      slug,
		Title:     title,
		MenuLabel: menu,
		SheetName: sheet,
		Fields:    fields,
		layout: []string{
			"computer_no", "badge_no", "department", "full_name", "mother_name", "birth_date",
			"marital_status", "marriage_contract", "family_count",
			"first_child", "second_child", "third_child", "fourth_child",
			"address", "nearby_landmark", startDate.Key, "administrative_order", "permit_number", "permit_copy",
			"national_id_front", "national_id_back", "housing_card_front", "housing_card_back",
			"mobile", "data_entry_name",
		},
	}
}

func serviceCategory() Category {
	return Category{
		Slug:      SlugService,
		Title:     "إضافة بيانات العاملين بصفة شراء خدمات",
		MenuLabel: "إضافة بيانات العاملين بصفة شراء خدمات",
		SheetName: "بيانات الخدمة",
		Fields: []Field{
			text("computer_no", "رقم الحاسبة"),
			text("department", "القسم"),
			text("full_name", "الإسم الرباعي واللقب"),
			text("mother_name", "اسم الأم الثلاثي"),
			{Key: "birth_date", Label: "المواليد", Kind: KindDate, Required: true, Bounded: true},
			text("address", "عنوان السكن"),
			text("nearby_landmark", "أقرب نقطه دالة"),
			{Key: "referral_date", Label: "تاريخ الإحالة", Kind: KindDate, Required: true},
			{Key: "referral_duration", Label: "مدة الإحالة", Kind: KindNumber, Required: true, Min: 1},
			file("referral_copy", "ارفاق نسخة من الإحالة"),
			text("permit_number", "رقم التصريح"),
			file("permit_copy", "ارفاق نسخة من التصريح"),
			file("national_id_front", "ارفاق نسخة من البطاقة الوطنية/الواجهه"),
			file("national_id_back", "ارفاق نسخة من البطاقة الوطنية/الضهر"),
			file("housing_card_front", "ارفاق نسخة من بطاقه السكن/ الوجه"),
			file("housing_card_back", "ارفاق نسخة من بطاقه السكن/الضهر"),
			text("mobile", "رقم الموبايل"),
			text("data_entry_name", "اسم مدخل البيانات"),
		},
		layout: []string{
			"computer_no", "department", "full_name", "mother_name", "birth_date",
			"address", "nearby_landmark", "referral_date", "referral_duration",
			"referral_copy", "permit_number", "permit_copy",
			"national_id_front", "national_id_back", "housing_card_front", "housing_card_back",
			"mobile", "data_entry_name",
		},
	}
}

func text(key, label string) Field {
	return Field{Key: key, Label: label, Kind: KindText, Required: true}
}

func optional(key, label string) Field {
	return Field{Key: key, Label: label, Kind: KindText}
}

func file(key, label string) Field {
	return Field{Key: key, Label: label, Kind: KindFile, Required: true}
}

// All returns the categories in menu order.
func All() []Category {
	out := make([]Category, len(categories))
	copy(out, categories)
	return out
}

func Lookup(slug string) (Category, bool) {
	slug = strings.ToLower(strings.TrimSpace(slug))
	for _, c := range categories {
		if c.Slug == slug {
			return c, true
		}
	}
	return Category{}, false
}

func (c Category) Field(key string) (Field, bool) {
	for _, f := range c.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return Field{}, false
}

// UploadOrder lists the attachment keys in the order they are uploaded.
// Upload results are mapped back to columns by position in this slice.
func (c Category) UploadOrder() []string {
	var keys []string
	for _, key := range c.layout {
		if f, ok := c.Field(key); ok && f.Kind == KindFile {
			keys = append(keys, key)
		}
	}
	return keys
}

// Columns returns the header labels of the category's spreadsheet layout.
func (c Category) Columns() []string {
	out := make([]string, 0, len(c.layout))
	for _, key := range c.layout {
		f, _ := c.Field(key)
		out = append(out, f.Label)
	}
	return out
}

// AcceptedAttachmentTypes is shown next to every file input.
func AcceptedAttachmentTypes() string {
	return attachmentTypesHint
}
