package node

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/mod/semver"
)

var handlerNameRe = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

type registryKey struct {
	name  string
	major int
}

// Registered — обработчик с разобранной версией и скомпилированной схемой.
type Registered struct {
	Handler Handler
	Name    string
	Version string
	Major   int

	schema *inputSchema
}

// Bind проверяет метаданные обработчика и компилирует его схему входа.
func Bind(h Handler) (*Registered, error) {
	meta := h.Meta()

	if !handlerNameRe.MatchString(meta.Name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidHandlerName, meta.Name)
	}

	version, major, err := parseVersion(meta.Version)
	if err != nil {
		return nil, fmt.Errorf("handler %s: %w", meta.Name, err)
	}

	schema, err := compileSchema(meta.Name, version, meta.InputSchema)
	if err != nil {
		return nil, fmt.Errorf("handler %s@%s: %w", meta.Name, version, err)
	}

	return &Registered{
		Handler: h,
		Name:    meta.Name,
		Version: version,
		Major:   major,
		schema:  schema,
	}, nil
}

// Registry — реестр обработчиков по {name, major}.
//
// Реестр создаётся при старте процесса и передаётся явно.
// Потокобезопасен.
type Registry struct {
	mu       sync.RWMutex
	handlers map[registryKey]*Registered
}

// NewRegistry создаёт пустой реестр.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[registryKey]*Registered),
	}
}

// Register регистрирует обработчик.
//
// Повторная регистрация той же пары {name, major} — ошибка
// ErrDuplicateHandler. Схема входа компилируется здесь же, чтобы
// некорректная схема обнаруживалась при старте.
func (r *Registry) Register(h Handler) error {
	reg, err := Bind(h)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := registryKey{name: reg.Name, major: reg.Major}
	if existing, ok := r.handlers[key]; ok {
		return fmt.Errorf("%w: %s v%d (have %s, got %s)",
			ErrDuplicateHandler, reg.Name, reg.Major, existing.Version, reg.Version)
	}

	r.handlers[key] = reg
	return nil
}

// MustRegister регистрирует обработчик и паникует при ошибке.
func (r *Registry) MustRegister(h Handler) {
	if err := r.Register(h); err != nil {
		panic(err)
	}
}

// Get возвращает обработчик с наибольшей major-версией.
func (r *Registry) Get(name string) (Handler, error) {
	reg, err := r.Resolve(name, 0)
	if err != nil {
		return nil, err
	}
	return reg.Handler, nil
}

// GetVersion возвращает обработчик с точной major-версией.
func (r *Registry) GetVersion(name string, major int) (Handler, error) {
	if major <= 0 {
		return nil, fmt.Errorf("%w: %s v%d", ErrHandlerNotFound, name, major)
	}
	reg, err := r.Resolve(name, major)
	if err != nil {
		return nil, err
	}
	return reg.Handler, nil
}

// Resolve возвращает запись реестра: major == 0 — наибольшая версия.
func (r *Registry) Resolve(name string, major int) (*Registered, error) {
	return r.lookup(name, major)
}

func (r *Registry) lookup(name string, major int) (*Registered, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if major > 0 {
		e, ok := r.handlers[registryKey{name: name, major: major}]
		if !ok {
			return nil, fmt.Errorf("%w: %s v%d", ErrHandlerNotFound, name, major)
		}
		return e, nil
	}

	var best *Registered
	for key, reg := range r.handlers {
		if key.name == name && (best == nil || key.major > best.Major) {
			best = reg
		}
	}
	if best == nil {
		return nil, fmt.Errorf("%w: %s", ErrHandlerNotFound, name)
	}
	return best, nil
}

// Has проверяет, зарегистрирован ли обработчик с таким именем.
func (r *Registry) Has(name string) bool {
	_, err := r.lookup(name, 0)
	return err == nil
}

// List возвращает зарегистрированные обработчики по имени, затем по major.
func (r *Registry) List() []*Registered {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*Registered, 0, len(r.handlers))
	for _, reg := range r.handlers {
		list = append(list, reg)
	}
	sort.Slice(list, func(i, j int) bool {
		if list[i].Name != list[j].Name {
			return list[i].Name < list[j].Name
		}
		return list[i].Major < list[j].Major
	})
	return list
}

// Names возвращает список вида "name@version" в порядке List.
func (r *Registry) Names() []string {
	list := r.List()
	names := make([]string, len(list))
	for i, reg := range list {
		names[i] = reg.Name + "@" + reg.Version
	}
	return names
}

// Count возвращает количество зарегистрированных обработчиков.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// parseVersion проверяет semver и возвращает нормализованную версию
// без префикса "v" и major-номер.
func parseVersion(version string) (string, int, error) {
	v := version
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}

	major, err := strconv.Atoi(strings.TrimPrefix(semver.Major(v), "v"))
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidVersion, version)
	}
	if major == 0 {
		return "", 0, fmt.Errorf("%w: %q: major version must be >= 1", ErrInvalidVersion, version)
	}
	return strings.TrimPrefix(semver.Canonical(v), "v"), major, nil
}
