package modkit

import (
	"testing"

	"archiver/internal/platform/config"
	"archiver/internal/platform/logger"
	"archiver/internal/platform/store"
)

func TestFromStore(t *testing.T) {
	d := FromStore(logger.Logger{}, config.New(), nil)
	if d.PG != nil || d.CH != nil || d.RDS != nil {
		t.Fatalf("nil store should give empty backends: %+v", d)
	}

	d = FromStore(logger.Logger{}, config.New().Prefix("X_"), &store.Store{})
	if d.PG != nil || d.RDS != nil {
		t.Fatalf("empty store should give empty backends: %+v", d)
	}
}
