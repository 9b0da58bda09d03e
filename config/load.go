package config

import (
	"io/ioutil"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/capport/capport/errors"
)

// The configurable kinds recognized at the root of every document.
const (
	KindPipeline   = "pipeline"
	KindModel      = "model"
	KindTransform  = "transform"
	KindSource     = "source"
	KindSink       = "sink"
	KindConnection = "connection"
	KindLogger     = "logger"
	KindRunner     = "runner"
)

var knownKinds = []string{
	KindPipeline, KindModel, KindTransform, KindSource,
	KindSink, KindConnection, KindLogger, KindRunner,
}

type entry struct {
	raw  interface{}
	file string
}

// Pack is the merged union of every configuration file in a directory,
// bucketed by kind and name.
type Pack struct {
	kinds map[string]map[string]entry
}

// Load reads every *.yml / *.yaml file under dir and merges them by taking
// the union within each kind. The merge is independent of file order; a
// duplicate name within a kind is fatal and reports both source paths.
func Load(dir string) (*Pack, error) {
	infos, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, errors.New(errors.ConfigParse, dir, "unable to read config directory: %s", err)
	}
	var files []string
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(fi.Name())) {
		case ".yml", ".yaml":
			files = append(files, filepath.Join(dir, fi.Name()))
		}
	}
	sort.Strings(files)

	pack := &Pack{kinds: map[string]map[string]entry{}}
	for _, k := range knownKinds {
		pack.kinds[k] = map[string]entry{}
	}

	for _, file := range files {
		data, err := ioutil.ReadFile(file)
		if err != nil {
			return nil, errors.New(errors.ConfigParse, file, "unable to read config file: %s", err)
		}
		var doc map[interface{}]interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.New(errors.ConfigParse, file, "invalid yaml: %s", err)
		}
		for rawKind, rawBody := range doc {
			kind := strings.ToLower(strings.TrimSpace(toString(rawKind)))
			bucket, ok := pack.kinds[kind]
			if !ok {
				return nil, errors.New(errors.ConfigValidate, file, "unknown top-level kind %q, expected one of %v", kind, knownKinds)
			}
			body, ok := cleanup(rawBody).(map[string]interface{})
			if !ok {
				return nil, errors.New(errors.ConfigParse, file, "kind %q must map names to definitions", kind)
			}
			for name, sub := range body {
				if prev, dup := bucket[name]; dup {
					return nil, errors.New(errors.ConfigValidate, file,
						"duplicate %s %q, first defined in %s, redefined in %s", kind, name, prev.file, file)
				}
				bucket[name] = entry{raw: sub, file: file}
			}
		}
	}
	return pack, nil
}

// Get returns the raw subtree for (kind, name).
func (p *Pack) Get(kind, name string) (interface{}, bool) {
	e, ok := p.kinds[kind][name]
	return e.raw, ok
}

// GetConfig returns the subtree for (kind, name) as a Config map.
func (p *Pack) GetConfig(kind, name string) (Config, bool) {
	raw, ok := p.Get(kind, name)
	if !ok {
		return nil, false
	}
	return AsConfig(raw), true
}

// HasName reports whether (kind, name) is registered.
func (p *Pack) HasName(kind, name string) bool {
	_, ok := p.kinds[kind][name]
	return ok
}

// Names returns the sorted names registered under a kind.
func (p *Pack) Names(kind string) []string {
	bucket := p.kinds[kind]
	names := make([]string, 0, len(bucket))
	for n := range bucket {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Origin returns the file that defined (kind, name).
func (p *Pack) Origin(kind, name string) string {
	return p.kinds[kind][name].file
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
