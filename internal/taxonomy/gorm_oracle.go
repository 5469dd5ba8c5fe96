package taxonomy

import (
	"context"
	"io"
	"log"
	"log/slog"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/patrickmn/go-cache"
	"github.com/tphakala/identree-go/internal/errors"
	"github.com/tphakala/identree-go/internal/logging"
	"gorm.io/gorm"
)

// Package-level logger specific to the taxonomy service
var (
	logger          *slog.Logger
	serviceLevelVar = new(slog.LevelVar)
	closeLogger     func() error
)

func init() {
	var err error
	logFilePath := filepath.Join("logs", "taxonomy.log")
	initialLevel := slog.LevelDebug
	serviceLevelVar.Set(initialLevel)

	logger, closeLogger, err = logging.NewFileLogger(logFilePath, "taxonomy", serviceLevelVar)
	if err != nil {
		log.Printf("Failed to initialize taxonomy file logger at %s: %v. Service logging disabled.", logFilePath, err)
		fbHandler := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: serviceLevelVar})
		logger = slog.New(fbHandler).With("service", "taxonomy")
		closeLogger = func() error { return nil }
	}
}

// GormOracle answers hierarchy queries from the taxa and taxon_ancestors
// tables, caching ancestor sets and graft/children answers.
type GormOracle struct {
	db     *gorm.DB
	cache  *cache.Cache
	config Config
}

// NewGormOracle creates an oracle backed by the given database handle.
func NewGormOracle(db *gorm.DB, config Config) (*GormOracle, error) {
	if db == nil {
		return nil, errors.Newf("taxonomy oracle requires a database handle").
			Component("taxonomy").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if config.CacheTTL == 0 {
		config = DefaultConfig()
	}

	return &GormOracle{
		db:     db,
		cache:  cache.New(config.CacheTTL, config.SweepInterval),
		config: config,
	}, nil
}

// Close releases the service log writer.
func Close() error {
	if closeLogger != nil {
		return closeLogger()
	}
	return nil
}

func ancestorsCacheKey(taxonID int64) string {
	return "anc:" + strconv.FormatInt(taxonID, 10)
}

func childrenCacheKey(taxonID int64) string {
	return "child:" + strconv.FormatInt(taxonID, 10)
}

func taxonCacheKey(taxonID int64) string {
	return "taxon:" + strconv.FormatInt(taxonID, 10)
}

// AncestorIDs returns the taxon's ancestors ordered root-first.
func (o *GormOracle) AncestorIDs(ctx context.Context, taxonID int64) ([]int64, error) {
	key := ancestorsCacheKey(taxonID)
	if cached, found := o.cache.Get(key); found {
		return cached.([]int64), nil
	}

	var rows []TaxonAncestor
	if err := o.db.WithContext(ctx).
		Where("taxon_id = ?", taxonID).
		Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err).
			Component("taxonomy").
			Category(errors.CategoryTaxonomy).
			TaxonContext(taxonID).
			Build()
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Depth < rows[j].Depth })
	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.AncestorID)
	}

	o.cache.SetDefault(key, ids)
	if o.config.Debug {
		logger.Debug("resolved ancestors", "taxon_id", taxonID, "count", len(ids))
	}
	return ids, nil
}

// SelfAndAncestorIDs returns the taxon's ancestors plus the taxon itself.
func (o *GormOracle) SelfAndAncestorIDs(ctx context.Context, taxonID int64) ([]int64, error) {
	anc, err := o.AncestorIDs(ctx, taxonID)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(anc)+1)
	ids = append(ids, anc...)
	ids = append(ids, taxonID)
	return ids, nil
}

// IsGrafted reports whether the taxon has a path to the hierarchy root.
func (o *GormOracle) IsGrafted(ctx context.Context, taxonID int64) (bool, error) {
	anc, err := o.AncestorIDs(ctx, taxonID)
	if err != nil {
		return false, err
	}
	return len(anc) > 0, nil
}

// IsActive reports whether the taxon is active.
func (o *GormOracle) IsActive(ctx context.Context, taxonID int64) (bool, error) {
	t, err := o.getTaxon(ctx, taxonID)
	if err != nil {
		return false, err
	}
	return t.IsActive, nil
}

// HasChildren reports whether the taxon has child taxa.
func (o *GormOracle) HasChildren(ctx context.Context, taxonID int64) (bool, error) {
	key := childrenCacheKey(taxonID)
	if cached, found := o.cache.Get(key); found {
		return cached.(bool), nil
	}

	var count int64
	if err := o.db.WithContext(ctx).
		Model(&Taxon{}).
		Where("parent_id = ?", taxonID).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, errors.Wrap(err).
			Component("taxonomy").
			Category(errors.CategoryTaxonomy).
			TaxonContext(taxonID).
			Build()
	}

	has := count > 0
	o.cache.SetDefault(key, has)
	return has, nil
}

// CurrentSynonym returns the replacement taxon for an inactive taxon.
func (o *GormOracle) CurrentSynonym(ctx context.Context, taxonID int64) (int64, bool, error) {
	t, err := o.getTaxon(ctx, taxonID)
	if err != nil {
		return 0, false, err
	}
	if t.SynonymID == 0 {
		return 0, false, nil
	}
	// Follow the synonym chain until an active taxon is found. Cycles are
	// guarded by a hop limit.
	current := t.SynonymID
	for hops := 0; hops < 16; hops++ {
		st, err := o.getTaxon(ctx, current)
		if err != nil {
			return 0, false, err
		}
		if st.IsActive {
			return current, true, nil
		}
		if st.SynonymID == 0 {
			return 0, false, nil
		}
		current = st.SynonymID
	}
	logger.Warn("synonym chain too deep", "taxon_id", taxonID)
	return 0, false, nil
}

// Exists reports whether the taxon is known to the hierarchy.
func (o *GormOracle) Exists(ctx context.Context, taxonID int64) (bool, error) {
	if _, err := o.getTaxon(ctx, taxonID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (o *GormOracle) getTaxon(ctx context.Context, taxonID int64) (*Taxon, error) {
	key := taxonCacheKey(taxonID)
	if cached, found := o.cache.Get(key); found {
		return cached.(*Taxon), nil
	}

	var t Taxon
	if err := o.db.WithContext(ctx).First(&t, taxonID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		return nil, errors.Wrap(err).
			Component("taxonomy").
			Category(errors.CategoryTaxonomy).
			TaxonContext(taxonID).
			Build()
	}

	o.cache.SetDefault(key, &t)
	return &t, nil
}

// Invalidate drops cached answers for a taxon. Call after taxon-change
// operations rewrite the hierarchy.
func (o *GormOracle) Invalidate(taxonID int64) {
	o.cache.Delete(ancestorsCacheKey(taxonID))
	o.cache.Delete(childrenCacheKey(taxonID))
	o.cache.Delete(taxonCacheKey(taxonID))
}

// Flush drops every cached answer.
func (o *GormOracle) Flush() {
	o.cache.Flush()
}
