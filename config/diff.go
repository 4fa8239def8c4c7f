package config

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
)

// ChangeType 变更类型
type ChangeType string

const (
	ChangeTypeAdded    ChangeType = "added"    // 新增
	ChangeTypeModified ChangeType = "modified" // 修改
	ChangeTypeDeleted  ChangeType = "deleted"  // 删除
)

// ConfigChange 配置变更
type ConfigChange struct {
	Path            string      `json:"path"` // 配置路径（如 "strategy.params.fast"）
	Type            ChangeType  `json:"type"`
	OldValue        interface{} `json:"old_value"`
	NewValue        interface{} `json:"new_value"`
	RequiresRestart bool        `json:"requires_restart"` // 是否需要重启进程
	AffectsResult   bool        `json:"affects_result"`   // 是否影响回测结果（需要重新回测）
}

// ConfigDiff 配置差异
type ConfigDiff struct {
	Changes         []ConfigChange `json:"changes"`
	RequiresRestart bool           `json:"requires_restart"`
	AffectsResult   bool           `json:"affects_result"`
}

// Empty 没有任何变更
func (d *ConfigDiff) Empty() bool {
	return d == nil || len(d.Changes) == 0
}

// Paths 变更路径列表
func (d *ConfigDiff) Paths() []string {
	paths := make([]string, len(d.Changes))
	for i, c := range d.Changes {
		paths[i] = c.Path
	}
	return paths
}

// DiffConfig 对比两个配置，生成差异（按 yaml 路径）
func DiffConfig(oldConfig, newConfig *Config) *ConfigDiff {
	diff := &ConfigDiff{Changes: []ConfigChange{}}
	diff.compare(reflect.ValueOf(oldConfig), reflect.ValueOf(newConfig), "")

	for _, change := range diff.Changes {
		if change.RequiresRestart {
			diff.RequiresRestart = true
		}
		if change.AffectsResult {
			diff.AffectsResult = true
		}
	}
	return diff
}

func (d *ConfigDiff) compare(oldVal, newVal reflect.Value, path string) {
	if oldVal.Kind() == reflect.Ptr {
		if oldVal.IsNil() {
			oldVal = reflect.Value{}
		} else {
			oldVal = oldVal.Elem()
		}
	}
	if newVal.Kind() == reflect.Ptr {
		if newVal.IsNil() {
			newVal = reflect.Value{}
		} else {
			newVal = newVal.Elem()
		}
	}

	switch {
	case !oldVal.IsValid() && !newVal.IsValid():
		return
	case !newVal.IsValid():
		d.add(path, ChangeTypeDeleted, oldVal.Interface(), nil)
		return
	case !oldVal.IsValid():
		d.add(path, ChangeTypeAdded, nil, newVal.Interface())
		return
	}

	switch oldVal.Kind() {
	case reflect.Struct:
		d.compareStruct(oldVal, newVal, path)
	case reflect.Map:
		d.compareMap(oldVal, newVal, path)
	default:
		// 基本类型与切片整体比较
		if !reflect.DeepEqual(oldVal.Interface(), newVal.Interface()) {
			d.add(path, ChangeTypeModified, oldVal.Interface(), newVal.Interface())
		}
	}
}

func (d *ConfigDiff) compareStruct(oldVal, newVal reflect.Value, basePath string) {
	typ := oldVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		name := strings.Split(field.Tag.Get("yaml"), ",")[0]
		if name == "-" || !field.IsExported() {
			continue
		}
		if name == "" {
			name = strings.ToLower(field.Name)
		}
		d.compare(oldVal.Field(i), newVal.Field(i), joinPath(basePath, name))
	}
}

// compareMap 按键排序对比，变更顺序确定
func (d *ConfigDiff) compareMap(oldVal, newVal reflect.Value, basePath string) {
	keys := make(map[string]reflect.Value)
	for _, k := range oldVal.MapKeys() {
		keys[fmt.Sprint(k.Interface())] = k
	}
	for _, k := range newVal.MapKeys() {
		keys[fmt.Sprint(k.Interface())] = k
	}
	names := make([]string, 0, len(keys))
	for name := range keys {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		key := keys[name]
		var oldItem, newItem reflect.Value
		if !oldVal.IsNil() {
			oldItem = oldVal.MapIndex(key)
		}
		if !newVal.IsNil() {
			newItem = newVal.MapIndex(key)
		}
		d.compare(oldItem, newItem, joinPath(basePath, name))
	}
}

func (d *ConfigDiff) add(path string, changeType ChangeType, oldValue, newValue interface{}) {
	d.Changes = append(d.Changes, ConfigChange{
		Path:            path,
		Type:            changeType,
		OldValue:        oldValue,
		NewValue:        newValue,
		RequiresRestart: hasPrefix(path, restartPaths),
		AffectsResult:   hasPrefix(path, resultPaths),
	})
}

func joinPath(base, name string) string {
	if base == "" {
		return name
	}
	return base + "." + name
}

// 需要重启才能生效的配置
var restartPaths = []string{
	"web",
	"database",
	"cache",
	"system.timezone",
}

// 影响回测结果的配置
var resultPaths = []string{
	"backtest",
	"strategy",
	"sweep.grid",
}

func hasPrefix(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if path == p || strings.HasPrefix(path, p+".") {
			return true
		}
	}
	return false
}
