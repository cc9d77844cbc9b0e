package schema

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stagegate/stagegate/pkg/staging"
)

// Manifest is the declarative list of migrations the CLI operates on. The
// file order is the intended apply order.
type Manifest struct {
	// Migrations holds the parsed migrations in manifest order.
	Migrations []*staging.Migration
}

// manifestFile is the YAML shape of a manifest.
type manifestFile struct {
	Migrations []migrationSpec `yaml:"migrations"`
}

// migrationSpec is the YAML shape of one migration.
type migrationSpec struct {
	App        string   `yaml:"app"`
	Name       string   `yaml:"name"`
	Stage      string   `yaml:"stage"`
	DependsOn  []string `yaml:"depends_on"`
	Operations []opSpec `yaml:"operations"`
}

// opSpec is the YAML shape of one operation. Fields beyond kind are
// interpreted per kind.
type opSpec struct {
	Kind     string `yaml:"kind"`
	Table    string `yaml:"table"`
	Column   string `yaml:"column"`
	NewName  string `yaml:"new_name"`
	Index    string `yaml:"index"`
	SQL      string `yaml:"sql"`
	Stage    string `yaml:"stage"`
	Nullable bool   `yaml:"nullable"`
}

// LoadManifest reads and parses a migration manifest, verifying that every
// dependency references a migration declared earlier in the file.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return ParseManifest(data)
}

// ParseManifest parses manifest YAML.
func ParseManifest(data []byte) (*Manifest, error) {
	var file manifestFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing manifest: %w", err)
	}

	manifest := &Manifest{Migrations: make([]*staging.Migration, 0, len(file.Migrations))}
	declared := make(map[staging.MigrationRef]bool, len(file.Migrations))
	for i, spec := range file.Migrations {
		migration, err := spec.build()
		if err != nil {
			return nil, fmt.Errorf("migration %d (%s.%s): %w", i, spec.App, spec.Name, err)
		}
		ref := migration.Ref()
		if declared[ref] {
			return nil, fmt.Errorf("migration %s declared twice", ref)
		}
		for _, dep := range migration.Dependencies {
			if !declared[dep] {
				return nil, fmt.Errorf("migration %s depends on %s, which is not declared earlier in the manifest", ref, dep)
			}
		}
		declared[ref] = true
		manifest.Migrations = append(manifest.Migrations, migration)
	}
	return manifest, nil
}

// Plan returns the manifest's migrations as a plan in the given direction.
// Backward plans run in reverse manifest order, mirroring how reverts are
// applied.
func (m *Manifest) Plan(direction staging.Direction) staging.Plan {
	plan := make(staging.Plan, 0, len(m.Migrations))
	if direction.Backward() {
		for i := len(m.Migrations) - 1; i >= 0; i-- {
			plan = append(plan, staging.PlanEntry{Migration: m.Migrations[i], Direction: direction})
		}
		return plan
	}
	for _, migration := range m.Migrations {
		plan = append(plan, staging.PlanEntry{Migration: migration, Direction: direction})
	}
	return plan
}

// Find returns the migration with the given "app.name" reference.
func (m *Manifest) Find(ref staging.MigrationRef) (*staging.Migration, bool) {
	for _, migration := range m.Migrations {
		if migration.Ref() == ref {
			return migration, true
		}
	}
	return nil, false
}

func (s migrationSpec) build() (*staging.Migration, error) {
	if s.App == "" || s.Name == "" {
		return nil, fmt.Errorf("app and name are required")
	}
	migration := &staging.Migration{AppLabel: s.App, Name: s.Name}

	if s.Stage != "" {
		stage, err := staging.ParseStage(s.Stage)
		if err != nil {
			return nil, err
		}
		migration.Stage = stage
	}

	for _, dep := range s.DependsOn {
		ref, err := parseRef(dep)
		if err != nil {
			return nil, err
		}
		migration.Dependencies = append(migration.Dependencies, ref)
	}

	for i, op := range s.Operations {
		built, err := op.build()
		if err != nil {
			return nil, fmt.Errorf("operation %d: %w", i, err)
		}
		migration.Operations = append(migration.Operations, built)
	}
	return migration, nil
}

func parseRef(s string) (staging.MigrationRef, error) {
	app, name, ok := strings.Cut(s, ".")
	if !ok || app == "" || name == "" {
		return staging.MigrationRef{}, fmt.Errorf("invalid migration reference %q (want \"app.name\")", s)
	}
	return staging.MigrationRef{AppLabel: app, Name: name}, nil
}

func (s opSpec) build() (staging.Operation, error) {
	parseOptionalStage := func() (staging.Stage, error) {
		if s.Stage == "" {
			return staging.StageUnset, nil
		}
		return staging.ParseStage(s.Stage)
	}

	switch s.Kind {
	case "create_table":
		if s.Table == "" {
			return nil, fmt.Errorf("create_table requires a table")
		}
		return &CreateTable{Table: s.Table}, nil
	case "drop_table":
		if s.Table == "" {
			return nil, fmt.Errorf("drop_table requires a table")
		}
		return &DropTable{Table: s.Table}, nil
	case "add_column":
		if s.Table == "" || s.Column == "" {
			return nil, fmt.Errorf("add_column requires a table and a column")
		}
		return &AddColumn{Table: s.Table, Column: s.Column}, nil
	case "drop_column":
		if s.Table == "" || s.Column == "" {
			return nil, fmt.Errorf("drop_column requires a table and a column")
		}
		return &DropColumn{Table: s.Table, Column: s.Column}, nil
	case "alter_column":
		if s.Table == "" || s.Column == "" {
			return nil, fmt.Errorf("alter_column requires a table and a column")
		}
		return &AlterColumn{Table: s.Table, Column: s.Column, Nullable: s.Nullable}, nil
	case "rename_column":
		if s.Table == "" || s.Column == "" || s.NewName == "" {
			return nil, fmt.Errorf("rename_column requires a table, a column and a new_name")
		}
		stage, err := parseOptionalStage()
		if err != nil {
			return nil, err
		}
		return &RenameColumn{Table: s.Table, Column: s.Column, NewName: s.NewName, Stage: stage}, nil
	case "add_index":
		if s.Table == "" || s.Index == "" {
			return nil, fmt.Errorf("add_index requires a table and an index")
		}
		return &AddIndex{Table: s.Table, Index: s.Index}, nil
	case "drop_index":
		if s.Table == "" || s.Index == "" {
			return nil, fmt.Errorf("drop_index requires a table and an index")
		}
		return &DropIndex{Table: s.Table, Index: s.Index}, nil
	case "run_sql":
		if s.SQL == "" {
			return nil, fmt.Errorf("run_sql requires sql")
		}
		stage, err := parseOptionalStage()
		if err != nil {
			return nil, err
		}
		return &RunSQL{SQL: s.SQL, Stage: stage}, nil
	case "":
		return nil, fmt.Errorf("operation kind is required")
	default:
		return nil, fmt.Errorf("unknown operation kind %q", s.Kind)
	}
}
