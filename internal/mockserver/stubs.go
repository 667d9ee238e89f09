package mockserver

import (
	"fmt"
	"os"

	toml "github.com/pelletier/go-toml/v2"

	"timeoutproxy/internal/config"
)

// stubFile is the on-disk stub format:
//
//	[[stubs]]
//	method = "GET"
//	path = "/route1/path"
//	status = 200
//	body = "Hello from Mock Server!"
//	delay = "00:00:15"
type stubFile struct {
	Stubs []struct {
		Method    string            `toml:"method"`
		Path      string            `toml:"path"`
		Status    int               `toml:"status"`
		Body      string            `toml:"body"`
		Headers   map[string]string `toml:"headers"`
		Delay     config.Duration   `toml:"delay"`
		BodyDelay config.Duration   `toml:"body_delay"`
	} `toml:"stubs"`
}

// LoadStubs reads stubs from a TOML file.
func LoadStubs(path string) ([]Stub, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stubs %s: %w", path, err)
	}

	var f stubFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stubs %s: %w", path, err)
	}

	stubs := make([]Stub, 0, len(f.Stubs))
	for i, s := range f.Stubs {
		if s.Status != 0 && (s.Status < 100 || s.Status > 999) {
			return nil, fmt.Errorf("stubs[%d]: invalid status %d", i, s.Status)
		}
		stubs = append(stubs, Stub{
			Method:    s.Method,
			Path:      s.Path,
			Status:    s.Status,
			Body:      s.Body,
			Headers:   s.Headers,
			Delay:     s.Delay.Std(),
			BodyDelay: s.BodyDelay.Std(),
		})
	}
	return stubs, nil
}
