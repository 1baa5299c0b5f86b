// Package config loads pipeline options from a TOML or YAML file.
//
// A config file only needs the keys it changes; everything else keeps the
// value of the options it is loaded onto (usually pipeline.DefaultOptions).
//
//	# postbuild.toml
//	output_dir = "dist"
//	concurrency = 4
//
//	[format.css]
//	wrap_line_length = 120
package config

import (
	"bytes"
	stderrors "errors"
	"io"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/matzehuels/postbuild/pkg/errors"
	"github.com/matzehuels/postbuild/pkg/pipeline"
)

// DefaultNames are the file names Find looks for, in order.
var DefaultNames = []string{"postbuild.toml", "postbuild.yaml", "postbuild.yml"}

// Load reads the config file at path and applies it on top of base.
// The file type is chosen by extension.
func Load(fsys afero.Fs, path string, base pipeline.Options) (pipeline.Options, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return base, errors.Wrap(errors.ErrCodeFileNotFound, err, "read config %s", path)
	}
	opts := base
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		err = decodeTOML(data, &opts)
	case ".yaml", ".yml":
		err = decodeYAML(data, &opts)
	default:
		return base, errors.New(errors.ErrCodeInvalidConfig, "unsupported config type %q (want .toml, .yaml or .yml)", ext)
	}
	if err != nil {
		return base, errors.Wrap(errors.ErrCodeInvalidConfig, err, "parse config %s", path)
	}
	return opts, nil
}

// Find returns the first of DefaultNames present in dir.
func Find(fsys afero.Fs, dir string) (string, bool) {
	for _, name := range DefaultNames {
		p := filepath.Join(dir, name)
		if ok, _ := afero.Exists(fsys, p); ok {
			return p, true
		}
	}
	return "", false
}

func decodeTOML(data []byte, opts *pipeline.Options) error {
	md, err := toml.Decode(string(data), opts)
	if err != nil {
		return err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return stderrors.New("unknown keys: " + strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(data []byte, opts *pipeline.Options) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(opts); err != nil && err != io.EOF {
		return err
	}
	return nil
}
