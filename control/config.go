// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Thread-safe configuration store of typed tunables with change listeners,
// YAML loading and reload propagation.

package control

import (
	"fmt"
	"os"
	"reflect"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// configVar is the type-erased view of a Var held by a Config.
type configVar interface {
	Name() string
	Description() string
	Value() any
	decode(node *yaml.Node) error
}

// Config is a registry of named tunables. Values arriving from files for
// names that have no registered tunable are kept verbatim and reported by
// Snapshot.
type Config struct {
	mu        sync.RWMutex
	vars      map[string]configVar
	raw       map[string]any
	listeners []func()
}

// NewConfig initializes an empty config store.
func NewConfig() *Config {
	return &Config{
		vars: make(map[string]configVar),
		raw:  make(map[string]any),
	}
}

var defaultConfig = NewConfig()

// Default returns the process-wide config store used by the runtime packages.
func Default() *Config { return defaultConfig }

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '_':
		default:
			return false
		}
	}
	return true
}

// Lookup returns the tunable registered under name, creating it with def
// when absent. Registering the same name with a different type panics.
func Lookup[T any](c *Config, name string, def T, desc string) *Var[T] {
	if !validName(name) {
		panic(fmt.Sprintf("control: invalid config name %q", name))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.vars[name]; ok {
		v, ok := existing.(*Var[T])
		if !ok {
			panic(fmt.Sprintf("control: config %q already registered as %T", name, existing))
		}
		return v
	}
	v := &Var[T]{
		name:      name,
		desc:      desc,
		val:       def,
		listeners: make(map[uint64]func(old, new T)),
	}
	c.vars[name] = v
	if raw, ok := c.raw[name]; ok {
		delete(c.raw, name)
		_ = setFromValue(v, raw)
	}
	return v
}

// Find returns the type-erased value of a registered tunable.
func (c *Config) Find(name string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vars[name]
	if !ok {
		return nil, false
	}
	return v.Value(), true
}

// GetSnapshot returns a copy of all config values.
func (c *Config) GetSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.vars)+len(c.raw))
	for k, v := range c.raw {
		out[k] = v
	}
	for k, v := range c.vars {
		out[k] = v.Value()
	}
	return out
}

// Visit calls fn for every registered tunable in name order.
func (c *Config) Visit(fn func(name, desc string, value any)) {
	c.mu.RLock()
	vars := make([]configVar, 0, len(c.vars))
	for _, v := range c.vars {
		vars = append(vars, v)
	}
	c.mu.RUnlock()
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name() < vars[j].Name() })
	for _, v := range vars {
		fn(v.Name(), v.Description(), v.Value())
	}
}

// Set assigns a single value by name. The value is converted through its
// YAML representation, so Set("tcp.connect.timeout", "250") works.
func (c *Config) Set(name string, value any) error {
	name = strings.ToLower(name)
	c.mu.Lock()
	v, ok := c.vars[name]
	if !ok {
		c.raw[name] = value
	}
	c.mu.Unlock()
	if ok {
		if err := setFromValue(v, value); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}
	c.dispatchReload()
	return nil
}

// SetConfig merges new values and dispatches reload listeners once.
func (c *Config) SetConfig(newCfg map[string]any) error {
	keys := make([]string, 0, len(newCfg))
	for k := range newCfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := strings.ToLower(k)
		c.mu.Lock()
		v, ok := c.vars[name]
		if !ok {
			c.raw[name] = newCfg[k]
		}
		c.mu.Unlock()
		if ok {
			if err := setFromValue(v, newCfg[k]); err != nil {
				return fmt.Errorf("config %s: %w", name, err)
			}
		}
	}
	c.dispatchReload()
	return nil
}

// LoadYAML applies a YAML document. Nested mappings are flattened into
// dotted names: {tcp: {connect: {timeout: 250}}} sets tcp.connect.timeout.
func (c *Config) LoadYAML(data []byte) error {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}
	if len(root.Content) == 0 {
		return nil
	}
	flat := make(map[string]*yaml.Node)
	flatten("", root.Content[0], flat)

	names := make([]string, 0, len(flat))
	for name := range flat {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := flat[name]
		c.mu.Lock()
		v, ok := c.vars[name]
		if !ok && node.Kind != yaml.MappingNode {
			var raw any
			if err := node.Decode(&raw); err == nil {
				c.raw[name] = raw
			}
		}
		c.mu.Unlock()
		if ok {
			if err := v.decode(node); err != nil {
				return fmt.Errorf("config %s: %w", name, err)
			}
		}
	}
	c.dispatchReload()
	return nil
}

// LoadFile reads and applies a YAML file.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return c.LoadYAML(data)
}

// OnReload registers a listener hook called after every bulk update.
func (c *Config) OnReload(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

// dispatchReload invokes all listeners synchronously, in registration order.
func (c *Config) dispatchReload() {
	c.mu.RLock()
	listeners := append([]func(){}, c.listeners...)
	c.mu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
}

func flatten(prefix string, node *yaml.Node, out map[string]*yaml.Node) {
	if prefix != "" {
		out[prefix] = node
	}
	if node.Kind != yaml.MappingNode {
		return
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		key := strings.ToLower(node.Content[i].Value)
		if !validName(key) {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		flatten(key, node.Content[i+1], out)
	}
}

func setFromValue(v configVar, value any) error {
	if s, ok := value.(string); ok {
		var node yaml.Node
		if err := yaml.Unmarshal([]byte(s), &node); err != nil {
			return err
		}
		if len(node.Content) == 0 {
			return fmt.Errorf("empty value")
		}
		return v.decode(node.Content[0])
	}
	var node yaml.Node
	if err := node.Encode(value); err != nil {
		return err
	}
	return v.decode(&node)
}

// Var is a typed tunable. Listeners run synchronously on the goroutine that
// changed the value, outside the Var's lock.
type Var[T any] struct {
	name      string
	desc      string
	mu        sync.RWMutex
	val       T
	nextID    uint64
	listeners map[uint64]func(old, new T)
}

func (v *Var[T]) Name() string        { return v.name }
func (v *Var[T]) Description() string { return v.desc }
func (v *Var[T]) Value() any          { return v.Get() }

// Get returns the current value.
func (v *Var[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.val
}

// Set stores val and notifies listeners when it differs from the previous
// value.
func (v *Var[T]) Set(val T) {
	v.mu.Lock()
	old := v.val
	if reflect.DeepEqual(old, val) {
		v.mu.Unlock()
		return
	}
	v.val = val
	fns := make([]func(old, new T), 0, len(v.listeners))
	ids := make([]uint64, 0, len(v.listeners))
	for id := range v.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fns = append(fns, v.listeners[id])
	}
	v.mu.Unlock()
	for _, fn := range fns {
		fn(old, val)
	}
}

// AddListener registers a change callback and returns its id.
func (v *Var[T]) AddListener(fn func(old, new T)) uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.nextID++
	v.listeners[v.nextID] = fn
	return v.nextID
}

// RemoveListener unregisters the listener with the given id.
func (v *Var[T]) RemoveListener(id uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.listeners, id)
}

func (v *Var[T]) decode(node *yaml.Node) error {
	var val T
	if err := node.Decode(&val); err != nil {
		return err
	}
	v.Set(val)
	return nil
}
