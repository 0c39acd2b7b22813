package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"capora-backend/internal/models"
)

type platformFile struct {
	Platforms []models.PlatformSpec `yaml:"platforms"`
}

// LoadPlatformSpecs returns the built-in platform table with any entries
// from the YAML file at path laid over it. An empty path means defaults only.
func LoadPlatformSpecs(path string) (models.PlatformSpecs, error) {
	specs := models.DefaultPlatformSpecs()
	if path == "" {
		return specs, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read platform specs: %w", err)
	}
	return mergePlatformSpecs(specs, data)
}

func mergePlatformSpecs(specs models.PlatformSpecs, data []byte) (models.PlatformSpecs, error) {
	var file platformFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse platform specs: %w", err)
	}
	for i, spec := range file.Platforms {
		p, ok := models.ParsePlatform(string(spec.Platform))
		if !ok {
			return nil, fmt.Errorf("platform specs entry %d: unknown platform %q", i, spec.Platform)
		}
		spec.Platform = p
		if spec.Width <= 0 || spec.Height <= 0 {
			return nil, fmt.Errorf("platform %s: width and height must be positive", p)
		}
		if spec.AspectRatio == "" {
			spec.AspectRatio = reduceRatio(spec.Width, spec.Height)
		} else if !validRatio(spec.AspectRatio) {
			return nil, fmt.Errorf("platform %s: aspect_ratio %q is not W:H", p, spec.AspectRatio)
		}
		if spec.DisplayName == "" {
			spec.DisplayName = specs[p].DisplayName
		}
		specs[p] = spec
	}
	return specs, nil
}

func validRatio(s string) bool {
	w, h, ok := strings.Cut(s, ":")
	if !ok {
		return false
	}
	a, errA := strconv.Atoi(w)
	b, errB := strconv.Atoi(h)
	return errA == nil && errB == nil && a > 0 && b > 0
}

func reduceRatio(w, h int) string {
	a, b := w, h
	for b != 0 {
		a, b = b, a%b
	}
	return fmt.Sprintf("%d:%d", w/a, h/a)
}
