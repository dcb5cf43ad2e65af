package checkins

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed questions.yaml
var defaultQuestionsYAML []byte

// Bank is an age-banded question set. The scheduler picks the bank matching
// the child's age on the day the session is created.
type Bank struct {
	Name      string     `yaml:"name"`
	MinAge    int        `yaml:"min_age"`
	MaxAge    int        `yaml:"max_age"`
	Questions []Question `yaml:"questions"`
}

type bankFile struct {
	Banks []Bank `yaml:"banks"`
}

// LoadBanks parses the embedded question banks, or the file named by
// CHECKIN_QUESTIONS_YAML when set.
func LoadBanks() ([]Bank, error) {
	raw := defaultQuestionsYAML
	if path := os.Getenv("CHECKIN_QUESTIONS_YAML"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read question banks from %s: %w", path, err)
		}
		raw = b
	}
	return ParseBanks(raw)
}

func ParseBanks(raw []byte) ([]Bank, error) {
	var f bankFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse question banks: %w", err)
	}
	if len(f.Banks) == 0 {
		return nil, fmt.Errorf("question bank file defines no banks")
	}
	for _, b := range f.Banks {
		if b.Name == "" {
			return nil, fmt.Errorf("question bank without a name")
		}
		if b.MinAge > b.MaxAge {
			return nil, fmt.Errorf("question bank %q has min_age above max_age", b.Name)
		}
		if err := ValidateQuestions(b.Questions); err != nil {
			return nil, fmt.Errorf("question bank %q: %w", b.Name, err)
		}
	}
	return f.Banks, nil
}

// BankForAge returns the first bank whose age band covers age.
func BankForAge(banks []Bank, age int) (Bank, bool) {
	for _, b := range banks {
		if age >= b.MinAge && age <= b.MaxAge {
			return b, true
		}
	}
	return Bank{}, false
}
