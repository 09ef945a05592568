package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

// LoadDotEnv copies the variables in path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func WriteDotEnv(path string, values map[string]string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists (use --force to overwrite)", path)
		}
	}

	content, err := godotenv.Marshal(values)
	if err != nil {
		return err
	}
	// Marshal writes integers bare, which turns a code such as 01234 into 1234.
	back, err := godotenv.Unmarshal(content)
	if err != nil {
		return err
	}
	lines := strings.Split(content, "\n")
	for i, line := range lines {
		key, _, _ := strings.Cut(line, "=")
		want, ok := values[key]
		if !ok || back[key] == want {
			continue
		}
		if strings.ContainsAny(want, "'\n") {
			return fmt.Errorf("value of %s cannot be written to %s", key, path)
		}
		lines[i] = key + "='" + want + "'"
	}

	return os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600)
}

// EnvKey turns a config key such as gate.passwords into STAFFFORMS_GATE_PASSWORDS.
func EnvKey(key string) string {
	return EnvPrefix + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
