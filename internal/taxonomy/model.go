package taxonomy

// Taxon is a node in the taxonomic hierarchy as persisted by the datastore.
type Taxon struct {
	ID        int64  `gorm:"primaryKey"`
	Name      string `gorm:"index:idx_taxa_name"`
	Rank      string `gorm:"type:varchar(32)"`
	ParentID  int64  `gorm:"index:idx_taxa_parent"`
	IsActive  bool   `gorm:"index:idx_taxa_active"`
	SynonymID int64  // current synonymous taxon when inactive, 0 if none
}

// TaxonAncestor is one row of the ancestry closure table: taxon T has
// ancestor A at the given depth, depth 0 being the root. A taxon with no
// closure rows is either a root or ungrafted.
type TaxonAncestor struct {
	TaxonID    int64 `gorm:"primaryKey;autoIncrement:false;index:idx_taxon_ancestors_taxon"`
	AncestorID int64 `gorm:"primaryKey;autoIncrement:false;index:idx_taxon_ancestors_ancestor"`
	Depth      int   `gorm:"not null"`
}
