package staging

import (
	"errors"
	"testing"
)

func TestResolvePrecedence(t *testing.T) {
	tests := []struct {
		name       string
		cfg        ResolverConfig
		migration  *Migration
		want       Stage
		wantOrigin StageOrigin
		wantErr    bool
	}{
		{
			name:       "explicit stage wins over override",
			cfg:        ResolverConfig{Overrides: StageMap{"shop.0001_initial": StagePostDeploy}},
			migration:  migration("shop", "0001_initial", StagePreDeploy, postOp("drop table")),
			want:       StagePreDeploy,
			wantOrigin: OriginExplicit,
		},
		{
			name:       "override wins over inference",
			cfg:        ResolverConfig{Overrides: StageMap{"shop.0001_initial": StagePostDeploy}},
			migration:  migration("shop", "0001_initial", StageUnset, preOp("add column")),
			want:       StagePostDeploy,
			wantOrigin: OriginOverride,
		},
		{
			name:       "override falls back to app key",
			cfg:        ResolverConfig{Overrides: StageMap{"shop": StagePostDeploy}},
			migration:  migration("shop", "0002_prices", StageUnset, preOp("add column")),
			want:       StagePostDeploy,
			wantOrigin: OriginOverride,
		},
		{
			name:       "specific override key beats app key",
			cfg:        ResolverConfig{Overrides: StageMap{"shop": StagePostDeploy, "shop.0002_prices": StagePreDeploy}},
			migration:  migration("shop", "0002_prices", StageUnset),
			want:       StagePreDeploy,
			wantOrigin: OriginOverride,
		},
		{
			name:       "unanimous operations infer the stage",
			cfg:        ResolverConfig{},
			migration:  migration("shop", "0003_cleanup", StageUnset, postOp("drop a"), postOp("drop b")),
			want:       StagePostDeploy,
			wantOrigin: OriginInferred,
		},
		{
			name:       "conflicting operations use the fallback",
			cfg:        ResolverConfig{Fallbacks: StageMap{"shop": StagePostDeploy}},
			migration:  migration("shop", "0004_mixed", StageUnset, preOp("add"), postOp("drop")),
			want:       StagePostDeploy,
			wantOrigin: OriginFallback,
		},
		{
			name:      "conflicting operations without fallback fail",
			cfg:       ResolverConfig{},
			migration: migration("shop", "0004_mixed", StageUnset, preOp("add"), postOp("drop")),
			wantErr:   true,
		},
		{
			name:       "no operations and no configuration means no constraint",
			cfg:        ResolverConfig{},
			migration:  migration("shop", "0005_merge", StageUnset),
			want:       StageUnset,
			wantOrigin: OriginNone,
		},
		{
			name: "third-party default seeds the fallback",
			cfg: ResolverConfig{
				ThirdPartyApps:    []string{"vendor"},
				ThirdPartyDefault: StagePreDeploy,
			},
			migration:  migration("vendor", "0001_squashed", StageUnset, preOp("add"), postOp("drop")),
			want:       StagePreDeploy,
			wantOrigin: OriginFallback,
		},
		{
			name: "explicit fallback beats third-party default",
			cfg: ResolverConfig{
				Fallbacks:         StageMap{"vendor": StagePostDeploy},
				ThirdPartyApps:    []string{"vendor"},
				ThirdPartyDefault: StagePreDeploy,
			},
			migration:  migration("vendor", "0001_squashed", StageUnset, preOp("add"), postOp("drop")),
			want:       StagePostDeploy,
			wantOrigin: OriginFallback,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resolver := NewResolver(tt.cfg)
			got, origin, err := resolver.Resolve(tt.migration)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				var ambiguous *AmbiguousStageError
				if !errors.As(err, &ambiguous) {
					t.Fatalf("expected AmbiguousStageError, got %T: %v", err, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Resolve failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("stage = %q, want %q", got, tt.want)
			}
			if origin != tt.wantOrigin {
				t.Errorf("origin = %q, want %q", origin, tt.wantOrigin)
			}
		})
	}
}

func TestMustPostDeploy(t *testing.T) {
	resolver := NewResolver(ResolverConfig{})

	tests := []struct {
		name            string
		entry           PlanEntry
		wantPost        bool
		wantConstrained bool
	}{
		{
			name:            "pre-deploy forward runs early",
			entry:           PlanEntry{Migration: migration("shop", "0001", StagePreDeploy), Direction: DirectionForward},
			wantPost:        false,
			wantConstrained: true,
		},
		{
			name:            "post-deploy forward waits",
			entry:           PlanEntry{Migration: migration("shop", "0002", StagePostDeploy), Direction: DirectionForward},
			wantPost:        true,
			wantConstrained: true,
		},
		{
			name:            "reverting a pre-deploy migration waits",
			entry:           PlanEntry{Migration: migration("shop", "0001", StagePreDeploy), Direction: DirectionBackward},
			wantPost:        true,
			wantConstrained: true,
		},
		{
			name:            "reverting a post-deploy migration runs early",
			entry:           PlanEntry{Migration: migration("shop", "0002", StagePostDeploy), Direction: DirectionBackward},
			wantPost:        false,
			wantConstrained: true,
		},
		{
			name:            "unconstrained migration",
			entry:           PlanEntry{Migration: migration("shop", "0003_merge", StageUnset), Direction: DirectionForward},
			wantPost:        false,
			wantConstrained: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			post, constrained, _, err := resolver.MustPostDeploy(tt.entry)
			if err != nil {
				t.Fatalf("MustPostDeploy failed: %v", err)
			}
			if post != tt.wantPost || constrained != tt.wantConstrained {
				t.Errorf("got (post=%v, constrained=%v), want (post=%v, constrained=%v)",
					post, constrained, tt.wantPost, tt.wantConstrained)
			}
		})
	}
}
