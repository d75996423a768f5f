package configuration

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFromFile loads the dotenv files among paths that exist. Variables
// already set in the environment keep their value.
func LoadEnvFromFile(paths ...string) error {
	var found []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		found = append(found, p)
	}
	if len(found) == 0 {
		return nil
	}
	return godotenv.Load(found...)
}
