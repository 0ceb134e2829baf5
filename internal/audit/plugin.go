package audit

import (
	"errors"
	"fmt"
	"reflect"

	"audittrail/internal/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const originalsKey = "audit:originals"

// PluginConfig tunes how the plugin persists records.
type PluginConfig struct {
	FailOpen  bool
	BatchSize int
	Metrics   *Metrics
}

// Plugin hooks the audit interceptor into gorm's create, update and delete
// chains. Records are written on the statement's own transaction right
// before it commits, so a failed audit write rolls the save back.
//
// Updates and deletes are resolved to entities before they run: a statement
// carrying the entity uses its primary key, while a conditional statement
// such as Model(&T{}).Where(...).Update(...) or Delete(&T{}, "id = ?", id)
// reads the rows its WHERE clause matches. Outside sqlite those reads take
// row locks.
type Plugin struct {
	extractor *Extractor
	cfg       PluginConfig
}

func NewPlugin(extractor *Extractor, cfg PluginConfig) *Plugin {
	return &Plugin{extractor: extractor, cfg: cfg}
}

func (p *Plugin) Name() string { return "audit" }

func (p *Plugin) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	if err := cb.Create().Before("gorm:commit_or_rollback_transaction").
		Register("audit:record_create", p.recordCreate); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:update").
		Register("audit:snapshot_update", p.snapshot); err != nil {
		return err
	}
	if err := cb.Update().Before("gorm:commit_or_rollback_transaction").
		Register("audit:record_update", p.recordUpdate); err != nil {
		return err
	}
	if err := cb.Delete().Before("gorm:delete").
		Register("audit:snapshot_delete", p.snapshot); err != nil {
		return err
	}
	return cb.Delete().Before("gorm:commit_or_rollback_transaction").
		Register("audit:record_delete", p.recordDelete)
}

type target struct {
	id    string
	value reflect.Value
}

// snapshotSet holds the pre-statement rows in the order they were found.
type snapshotSet struct {
	ids  []string
	rows map[string]any
}

func (s *snapshotSet) add(id string, row any) {
	if _, ok := s.rows[id]; ok {
		return
	}
	s.ids = append(s.ids, id)
	s.rows[id] = row
}

func (p *Plugin) audited(db *gorm.DB) bool {
	if db.Error != nil || db.Statement.Schema == nil {
		return false
	}
	_, ok := p.extractor.catalog.Lookup(db.Statement.Schema.ModelType)
	return ok
}

// targets lists the entities the statement carries that have a primary key,
// and how many it carries without one.
func (p *Plugin) targets(db *gorm.DB) (out []target, keyless int) {
	pk := db.Statement.Schema.PrioritizedPrimaryField
	if pk == nil {
		return nil, 0
	}
	ctx := db.Statement.Context
	collect := func(v reflect.Value) {
		for v.Kind() == reflect.Ptr {
			if v.IsNil() {
				return
			}
			v = v.Elem()
		}
		if v.Kind() != reflect.Struct {
			return
		}
		id, zero := pk.ValueOf(ctx, v)
		if zero {
			keyless++
			return
		}
		out = append(out, target{id: fmt.Sprint(id), value: v})
	}

	rv := db.Statement.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < rv.Len(); i++ {
			collect(rv.Index(i))
		}
	default:
		collect(rv)
	}
	return out, keyless
}

// session returns a statement-free handle on db's connection, which inside
// a callback is the open transaction.
func session(db *gorm.DB, skipHooks bool) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true, SkipHooks: skipHooks}).Scopes()
}

// lock adds FOR UPDATE to snapshot reads on dialects that support it.
func lock(db, query *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return query
	}
	return query.Clauses(clause.Locking{Strength: "UPDATE"})
}

func (p *Plugin) load(db *gorm.DB, id string, forUpdate bool) (any, error) {
	schema := db.Statement.Schema
	dest := reflect.New(schema.ModelType).Interface()
	query := session(db, true).
		Unscoped().
		Where(clause.Eq{
			Column: clause.Column{Table: clause.CurrentTable, Name: schema.PrioritizedPrimaryField.DBName},
			Value:  id,
		})
	if forUpdate {
		query = lock(db, query)
	}
	err := query.Take(dest).Error
	return dest, err
}

// matching reads the rows the statement's WHERE clause selects.
func (p *Plugin) matching(db *gorm.DB, set *snapshotSet) error {
	stmt := db.Statement
	where, ok := stmt.Clauses["WHERE"].Expression.(clause.Where)
	if !ok || len(where.Exprs) == 0 {
		if !stmt.AllowGlobalUpdate {
			return nil
		}
	}

	schema := stmt.Schema
	query := session(db, true).Model(reflect.New(schema.ModelType).Interface())
	if stmt.Unscoped {
		query = query.Unscoped()
	}
	if ok && len(where.Exprs) > 0 {
		query = query.Clauses(where)
	}
	rows := reflect.New(reflect.SliceOf(schema.ModelType))
	if err := lock(db, query).Find(rows.Interface()).Error; err != nil {
		return err
	}

	pk := schema.PrioritizedPrimaryField
	rv := rows.Elem()
	for i := 0; i < rv.Len(); i++ {
		elem := rv.Index(i)
		id, zero := pk.ValueOf(stmt.Context, elem)
		if zero {
			continue
		}
		set.add(fmt.Sprint(id), elem.Addr().Interface())
	}
	return nil
}

func (p *Plugin) snapshot(db *gorm.DB) {
	if !p.audited(db) || db.Statement.Schema.PrioritizedPrimaryField == nil {
		return
	}
	set := &snapshotSet{rows: map[string]any{}}
	targets, _ := p.targets(db)
	if len(targets) == 0 {
		if err := p.matching(db, set); err != nil {
			p.fail(db, fmt.Errorf("audit: load originals: %w", err))
			return
		}
	}
	for _, t := range targets {
		orig, err := p.load(db, t.id, true)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			p.fail(db, fmt.Errorf("audit: load original %s: %w", t.id, err))
			return
		}
		set.add(t.id, orig)
	}
	if len(set.ids) == 0 {
		return
	}
	db.InstanceSet(originalsKey, set)
}

func (p *Plugin) originals(db *gorm.DB) *snapshotSet {
	v, ok := db.InstanceGet(originalsKey)
	if !ok {
		return nil
	}
	set, _ := v.(*snapshotSet)
	return set
}

func (p *Plugin) recordCreate(db *gorm.DB) {
	if !p.audited(db) || db.RowsAffected == 0 {
		return
	}
	targets, keyless := p.targets(db)
	if keyless > 0 {
		logger.Get().Warnw("audit skipped entity without primary key",
			"table", db.Statement.Table, "count", keyless)
	}
	var entries []Entry
	for _, t := range targets {
		current := t.value.Interface()
		if t.value.CanAddr() {
			current = t.value.Addr().Interface()
		}
		entries = append(entries, Entry{State: EntryCreated, EntityID: t.id, Current: current})
	}
	p.save(db, entries)
}

func (p *Plugin) recordUpdate(db *gorm.DB) {
	if !p.audited(db) || db.RowsAffected == 0 {
		return
	}
	set := p.originals(db)
	if set == nil {
		return
	}
	var entries []Entry
	for _, id := range set.ids {
		current, err := p.load(db, id, false)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			continue
		}
		if err != nil {
			p.fail(db, fmt.Errorf("audit: reload %s: %w", id, err))
			return
		}
		entries = append(entries, Entry{State: EntryModified, EntityID: id, Original: set.rows[id], Current: current})
	}
	p.save(db, entries)
}

func (p *Plugin) recordDelete(db *gorm.DB) {
	if !p.audited(db) || db.RowsAffected == 0 {
		return
	}
	set := p.originals(db)
	if set == nil {
		return
	}
	entries := make([]Entry, 0, len(set.ids))
	for _, id := range set.ids {
		entries = append(entries, Entry{State: EntryDeleted, EntityID: id, Original: set.rows[id]})
	}
	p.save(db, entries)
}

func (p *Plugin) save(db *gorm.DB, entries []Entry) {
	if len(entries) == 0 {
		return
	}
	repo := NewRepository(session(db, false),
		WithBatchSize(p.cfg.BatchSize),
		WithRepositoryMetrics(p.cfg.Metrics),
	)
	interceptor := NewInterceptor(p.extractor, repo, FailOpen(p.cfg.FailOpen))
	if err := interceptor.SavingChanges(db.Statement.Context, entries); err != nil {
		db.AddError(err)
	}
}

// fail aborts the statement unless the plugin runs fail-open.
func (p *Plugin) fail(db *gorm.DB, err error) {
	if p.cfg.FailOpen {
		logger.Get().Errorw("audit snapshot failed, continuing save", "error", err)
		return
	}
	db.AddError(err)
}
