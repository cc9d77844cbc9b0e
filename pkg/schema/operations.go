// Package schema provides concrete schema-change operation kinds and the
// YAML manifest format migrations are loaded from. The staging core only
// sees the staging.Operation capability; everything database-flavored lives
// here.
package schema

import (
	"fmt"
	"unicode/utf8"

	"github.com/stagegate/stagegate/pkg/staging"
)

// TableOperation is implemented by operations scoped to a single table.
// Operations on distinct tables are independent and may commute.
type TableOperation interface {
	TableName() string
}

// touchesOtherTable reports whether other is scoped to a table different
// from table. Operations without a table scope (e.g. RunSQL) never commute.
func touchesOtherTable(table string, other staging.Operation) bool {
	scoped, ok := other.(TableOperation)
	return ok && scoped.TableName() != table
}

// CreateTable creates a new table. Additive, safe before deployment.
type CreateTable struct {
	staging.PreDeployDefault
	Table string
}

// TableName implements TableOperation.
func (o *CreateTable) TableName() string { return o.Table }

// Describe implements staging.Operation.
func (o *CreateTable) Describe() string { return fmt.Sprintf("create table %s", o.Table) }

// DropTable removes a table. Unsafe while the old code still queries it.
type DropTable struct {
	Table string
}

// TableName implements TableOperation.
func (o *DropTable) TableName() string { return o.Table }

// Classify implements staging.Operation.
func (o *DropTable) Classify() staging.Stage { return staging.StagePostDeploy }

// CanCommutePast reports that operations on other tables are unaffected by
// the removal.
func (o *DropTable) CanCommutePast(other staging.Operation) bool {
	return touchesOtherTable(o.Table, other)
}

// Describe implements staging.Operation.
func (o *DropTable) Describe() string { return fmt.Sprintf("drop table %s", o.Table) }

// AddColumn adds a column to an existing table. Additive, safe before
// deployment as long as the column is nullable or carries a default.
type AddColumn struct {
	staging.PreDeployDefault
	Table  string
	Column string
}

// TableName implements TableOperation.
func (o *AddColumn) TableName() string { return o.Table }

// Describe implements staging.Operation.
func (o *AddColumn) Describe() string { return fmt.Sprintf("add column %s.%s", o.Table, o.Column) }

// DropColumn removes a column. Unsafe while the old code still selects or
// inserts it.
type DropColumn struct {
	Table  string
	Column string
}

// TableName implements TableOperation.
func (o *DropColumn) TableName() string { return o.Table }

// Classify implements staging.Operation.
func (o *DropColumn) Classify() staging.Stage { return staging.StagePostDeploy }

// CanCommutePast reports that operations on other tables are unaffected by
// the removal.
func (o *DropColumn) CanCommutePast(other staging.Operation) bool {
	return touchesOtherTable(o.Table, other)
}

// Describe implements staging.Operation.
func (o *DropColumn) Describe() string { return fmt.Sprintf("drop column %s.%s", o.Table, o.Column) }

// AlterColumn changes a column definition in place, e.g. relaxing NOT NULL
// ahead of a removal.
type AlterColumn struct {
	staging.PreDeployDefault
	Table    string
	Column   string
	Nullable bool
}

// TableName implements TableOperation.
func (o *AlterColumn) TableName() string { return o.Table }

// Describe implements staging.Operation.
func (o *AlterColumn) Describe() string { return fmt.Sprintf("alter column %s.%s", o.Table, o.Column) }

// RenameColumn renames a column. No single stage is safe for both code
// revisions, so authors usually set Stage explicitly; without one the
// rename is held until after deployment.
type RenameColumn struct {
	Table   string
	Column  string
	NewName string

	// Stage optionally pins the deployment stage of the rename.
	Stage staging.Stage
}

// TableName implements TableOperation.
func (o *RenameColumn) TableName() string { return o.Table }

// Classify implements staging.Operation.
func (o *RenameColumn) Classify() staging.Stage { return staging.StagePostDeploy }

// CanCommutePast implements staging.Operation.
func (o *RenameColumn) CanCommutePast(other staging.Operation) bool {
	return touchesOtherTable(o.Table, other)
}

// ExplicitStage implements staging.ExplicitlyStaged.
func (o *RenameColumn) ExplicitStage() (staging.Stage, bool) {
	return o.Stage, o.Stage != staging.StageUnset
}

// Describe implements staging.Operation.
func (o *RenameColumn) Describe() string {
	return fmt.Sprintf("rename column %s.%s to %s", o.Table, o.Column, o.NewName)
}

// AddIndex creates an index. Additive, safe before deployment.
type AddIndex struct {
	staging.PreDeployDefault
	Table string
	Index string
}

// TableName implements TableOperation.
func (o *AddIndex) TableName() string { return o.Table }

// Describe implements staging.Operation.
func (o *AddIndex) Describe() string { return fmt.Sprintf("add index %s on %s", o.Index, o.Table) }

// DropIndex removes an index. The old planner may still rely on it, so it
// waits for the new code.
type DropIndex struct {
	Table string
	Index string
}

// TableName implements TableOperation.
func (o *DropIndex) TableName() string { return o.Table }

// Classify implements staging.Operation.
func (o *DropIndex) Classify() staging.Stage { return staging.StagePostDeploy }

// CanCommutePast reports that operations on other tables are unaffected by
// the removal.
func (o *DropIndex) CanCommutePast(other staging.Operation) bool {
	return touchesOtherTable(o.Table, other)
}

// Describe implements staging.Operation.
func (o *DropIndex) Describe() string { return fmt.Sprintf("drop index %s on %s", o.Index, o.Table) }

// RunSQL executes raw SQL. Its effect is opaque, so the author must declare
// the stage; without one it defaults to pre-deploy and never commutes.
type RunSQL struct {
	staging.PreDeployDefault
	SQL string

	// Stage declares the deployment stage of the statement.
	Stage staging.Stage
}

// ExplicitStage implements staging.ExplicitlyStaged.
func (o *RunSQL) ExplicitStage() (staging.Stage, bool) {
	return o.Stage, o.Stage != staging.StageUnset
}

// Describe implements staging.Operation.
func (o *RunSQL) Describe() string {
	const max = 40
	if len(o.SQL) > max {
		// Back up to a rune boundary so the excerpt stays valid UTF-8.
		cut := max
		for cut > 0 && !utf8.RuneStart(o.SQL[cut]) {
			cut--
		}
		return fmt.Sprintf("run sql %q...", o.SQL[:cut])
	}
	return fmt.Sprintf("run sql %q", o.SQL)
}

// ColumnRemoval expands the removal of a column into the operations a
// rolling deployment needs. A NOT NULL column is first made nullable so the
// still-running old code can keep inserting rows during the deployment
// window; the actual removal follows post-deploy.
func ColumnRemoval(table, column string, nullable bool) []staging.Operation {
	drop := &DropColumn{Table: table, Column: column}
	if nullable {
		return []staging.Operation{drop}
	}
	return []staging.Operation{
		&AlterColumn{Table: table, Column: column, Nullable: true},
		drop,
	}
}
