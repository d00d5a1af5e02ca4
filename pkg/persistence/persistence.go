package persistence

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/albertklubabot-sketch/gie20/pkg/logger"
)

// Service hands out keyed stores for small state snapshots (sensor adaptive
// levels, sync cursors). Not the knowledge store: that lives in
// internal/knowledge with its own versioning.
type Service interface {
	NewStore(prefix, id, tag string) Store
}

// Store saves and loads one JSON-encodable value.
type Store interface {
	Save(data interface{}) error
	Load(data interface{}) error
}

// ErrNotExists reports that no snapshot was saved under the store's key.
var ErrNotExists = fmt.Errorf("persistence data not exists")

// JSONFileService stores snapshots as JSON files under a base directory.
type JSONFileService struct {
	baseDir string
}

// NewJSONFileService creates a file-backed snapshot service.
func NewJSONFileService(baseDir string) *JSONFileService {
	return &JSONFileService{baseDir: baseDir}
}

// NewStore returns the store for key "prefix:id:tag".
func (s *JSONFileService) NewStore(prefix, id, tag string) Store {
	return &jsonFileStore{
		service: s,
		key:     fmt.Sprintf("%s:%s:%s", prefix, id, tag),
	}
}

type jsonFileStore struct {
	service *JSONFileService
	key     string
}

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func (s *jsonFileStore) filePath() string {
	safe := keySanitizer.ReplaceAllString(s.key, "_")
	return filepath.Join(s.service.baseDir, safe+".json")
}

// Save writes the value atomically (tmp file + rename).
func (s *jsonFileStore) Save(data interface{}) error {
	logger.Debugf("[persistence] save key=%s", s.key)
	if err := os.MkdirAll(s.service.baseDir, 0o755); err != nil {
		return err
	}
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}
	path := s.filePath()
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load reads the value; ErrNotExists when never saved.
func (s *jsonFileStore) Load(data interface{}) error {
	logger.Debugf("[persistence] load key=%s", s.key)
	b, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotExists
		}
		return err
	}
	if len(b) == 0 {
		return ErrNotExists
	}
	return json.Unmarshal(b, data)
}

// LoadFields restores every struct field carrying a `persistence:"tag"` tag.
// Missing snapshots leave the field untouched.
func LoadFields(obj interface{}, id string, service Service) error {
	return iterateFieldsByTag(obj, "persistence", true, func(
		tag string, field reflect.StructField, value reflect.Value,
	) error {
		newValueInf := newTypeValueInterface(value.Type())

		store := service.NewStore("state", id, tag)
		if err := store.Load(&newValueInf); err != nil {
			if err == ErrNotExists {
				return nil
			}
			return err
		}

		newValue := reflect.ValueOf(newValueInf)
		if value.Kind() != reflect.Ptr && newValue.Kind() == reflect.Ptr {
			newValue = newValue.Elem()
		}
		value.Set(newValue)
		return nil
	})
}

// SaveFields snapshots every struct field carrying a `persistence:"tag"` tag.
func SaveFields(obj interface{}, id string, service Service) error {
	return iterateFieldsByTag(obj, "persistence", true, func(
		tag string, ft reflect.StructField, fv reflect.Value,
	) error {
		store := service.NewStore("state", id, tag)
		return store.Save(fv.Interface())
	})
}

func iterateFieldsByTag(obj interface{}, tagName string, includeNested bool, fn func(tag string, field reflect.StructField, value reflect.Value) error) error {
	v := reflect.ValueOf(obj)
	if v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("object must be a struct or pointer to struct")
	}

	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		value := v.Field(i)

		if !value.CanSet() {
			continue
		}

		tag := field.Tag.Get(tagName)
		if tag == "" || tag == "-" {
			if includeNested && value.Kind() == reflect.Struct {
				if err := iterateFieldsByTag(value.Addr().Interface(), tagName, includeNested, fn); err != nil {
					return err
				}
			}
			continue
		}

		tagValue := strings.Split(tag, ",")[0]
		if err := fn(tagValue, field, value); err != nil {
			return err
		}
	}
	return nil
}

func newTypeValueInterface(typ reflect.Type) interface{} {
	if typ.Kind() == reflect.Ptr {
		return reflect.New(typ.Elem()).Interface()
	}
	return reflect.New(typ).Interface()
}
