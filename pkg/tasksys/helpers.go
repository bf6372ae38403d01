package tasksys

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"github.com/rotisserie/eris"
	"go.starlark.net/starlark"
)

// resolvePath joins the given path fragments relative to scriptDir. Paths
// starting with "//" are anchored at the project root instead.
func resolvePath(scriptDir, projectRoot string, pathList ...string) string {
	result := scriptDir

	for _, path := range pathList {
		if strings.HasPrefix(path, "//") {
			result = filepath.Join(projectRoot, path[2:])
		} else if strings.HasPrefix(path, "/") {
			result = filepath.Join(filepath.VolumeName(result), path)
		} else if !filepath.IsAbs(path) {
			result = filepath.Join(result, path)
		} else {
			result = path
		}
	}

	return filepath.Clean(result)
}

// displayPath shortens path to a "//"-prefixed form if it's inside the
// project root. Used for log messages only.
func displayPath(projectRoot, path string) string {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return path
	}

	if strings.HasPrefix(absPath, projectRoot) && len(absPath) > len(projectRoot) {
		return "//" + absPath[len(projectRoot)+1:]
	}
	return path
}

// mergeEnviron layers the given override maps (later wins) over the process
// environment and returns the combined list.
func mergeEnviron(overrides ...map[string]string) []string {
	merged := make(map[string]string)
	order := make([]string, 0)

	record := func(key, value string) {
		if runtime.GOOS == "windows" {
			key = strings.ToUpper(key)
		}

		if _, present := merged[key]; !present {
			order = append(order, key)
		}
		merged[key] = value
	}

	for _, item := range os.Environ() {
		parts := strings.SplitN(item, "=", 2)
		if len(parts) == 2 {
			record(parts[0], parts[1])
		}
	}

	for _, env := range overrides {
		for key, value := range env {
			record(key, value)
		}
	}

	result := make([]string, 0, len(order))
	for _, key := range order {
		result = append(result, fmt.Sprintf("%s=%s", key, merged[key]))
	}

	return result
}

func interfaceToStarlark(value interface{}) (starlark.Value, error) {
	// handle a few simple and common cases first
	switch value := value.(type) {
	case string:
		return starlark.String(value), nil
	case int:
		return starlark.MakeInt(value), nil
	case bool:
		if value {
			return starlark.True, nil
		}
		return starlark.False, nil
	case float32:
		return starlark.Float(value), nil
	case float64:
		return starlark.Float(value), nil
	case []string:
		items := make(starlark.Tuple, len(value))
		for idx, raw := range value {
			items[idx] = starlark.String(raw)
		}

		return items, nil
	case map[string]string:
		dict := starlark.NewDict(len(value))
		for k, v := range value {
			err := dict.SetKey(starlark.String(k), starlark.String(v))
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	refValue := reflect.ValueOf(value)
	if !refValue.IsValid() || refValue.Kind() == reflect.Ptr && refValue.IsNil() {
		return starlark.None, nil
	}

	var err error
	switch refValue.Kind() {
	case reflect.Slice:
		fallthrough
	case reflect.Array:
		tuple := make(starlark.Tuple, refValue.Len())
		for idx := 0; idx < refValue.Len(); idx++ {
			tuple[idx], err = interfaceToStarlark(refValue.Index(idx).Interface())
			if err != nil {
				return nil, err
			}
		}

		return tuple, nil
	case reflect.Map:
		dict := starlark.NewDict(refValue.Len())
		iter := refValue.MapRange()
		for iter.Next() {
			key, err := interfaceToStarlark(iter.Key().Interface())
			if err != nil {
				return nil, err
			}

			item, err := interfaceToStarlark(iter.Value().Interface())
			if err != nil {
				return nil, err
			}

			err = dict.SetKey(key, item)
			if err != nil {
				return nil, err
			}
		}

		return dict, nil
	}

	return nil, eris.Errorf("encountered unsupported type %v", refValue.Kind())
}
