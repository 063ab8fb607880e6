// Package datasets loads the tag feature and label tables and presents them
// as examples suitable for model training.
//
// Layout and intended usage:
//
// Feature tables
//   - CSV, first column is the sample identifier, then 289 numeric columns
//     in a fixed order: tag-genres, tag-instruments, tag-moods,
//     category-genres, category-instruments and category-moods.
//   - Split slices a table into the 6 group inputs of the model.
//
// Label tables
//   - CSV, first column is the sample identifier, then 248 binary columns:
//     genres, instruments and moods. Rows are matched with the feature table
//     by position.
//
// TagDataset implements gomlx's train.Dataset interface over a pair of
// in-memory tables. Large test sets are read with TableReader instead, a
// bounded number of rows at a time.
package datasets

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

const (
	// NumFeatures is the width of a feature table.
	NumFeatures = 289
	// NumLabels is the width of a label table.
	NumLabels = 248
	// NumGroups is the number of feature groups the model takes as inputs.
	NumGroups = 6
	// NumTagGroups is the number of groups that are also prediction targets.
	NumTagGroups = 3
)

var (
	// ErrSchema is returned when a table does not follow the fixed layout.
	ErrSchema = errors.New("table does not match the fixed column layout")
	// ErrEmpty is returned when a table has no rows.
	ErrEmpty = errors.New("table has no rows")
)

// Group identifies one of the contiguous column ranges of a feature table.
type Group int

const (
	TagGenres Group = iota
	TagInstruments
	TagMoods
	CategoryGenres
	CategoryInstruments
	CategoryMoods
)

var groupRanges = [NumGroups][2]int{
	{0, 90},
	{90, 202},
	{202, 248},
	{248, 266},
	{266, 281},
	{281, 289},
}

var groupNames = [NumGroups]string{
	"tag-genres",
	"tag-instruments",
	"tag-moods",
	"category-genres",
	"category-instruments",
	"category-moods",
}

// Range returns the [start, end) feature columns of the group.
func (g Group) Range() (start, end int) {
	return groupRanges[g][0], groupRanges[g][1]
}

// Width returns the number of columns of the group.
func (g Group) Width() int {
	return groupRanges[g][1] - groupRanges[g][0]
}

func (g Group) String() string {
	if g < 0 || int(g) >= NumGroups {
		return "unknown"
	}
	return groupNames[g]
}

// GroupWidths returns the widths of the 6 groups, in input order.
func GroupWidths() [NumGroups]int {
	var widths [NumGroups]int
	for g := range NumGroups {
		widths[g] = Group(g).Width()
	}
	return widths
}

// Groups holds the 6 group inputs of a feature table, row aligned.
// The matrices are views over the source table and must not be modified.
type Groups [NumGroups]*mat.Dense

// Rows returns the number of samples.
func (gs Groups) Rows() int {
	if gs[0] == nil {
		return 0
	}
	r, _ := gs[0].Dims()
	return r
}

// Split slices a feature matrix into its 6 groups. The caller guarantees the
// column layout; a matrix with fewer than NumFeatures columns panics.
func Split(values *mat.Dense) Groups {
	var gs Groups
	rows, _ := values.Dims()
	for g := range NumGroups {
		start, end := Group(g).Range()
		gs[g] = values.Slice(0, rows, start, end).(*mat.Dense)
	}
	return gs
}

// SplitTable is Split for tables, checking the column count first.
func SplitTable(t *Table) (Groups, error) {
	if t.Len() == 0 {
		return Groups{}, ErrEmpty
	}
	if t.Width() != NumFeatures {
		return Groups{}, errors.Wrapf(ErrSchema, "got %d feature columns, expected %d", t.Width(), NumFeatures)
	}
	return Split(t.Values), nil
}
