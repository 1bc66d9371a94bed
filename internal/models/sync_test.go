package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifySyncAccuracy(t *testing.T) {
	cases := []struct {
		name    string
		driftMs int64
		want    SyncAccuracy
	}{
		{"zero", 0, SyncAccuracyHigh},
		{"just under high boundary", 99, SyncAccuracyHigh},
		{"high boundary is medium", 100, SyncAccuracyMedium},
		{"just under medium boundary", 499, SyncAccuracyMedium},
		{"medium boundary is low", 500, SyncAccuracyLow},
		{"well past low", 5000, SyncAccuracyLow},
		{"negative classified by magnitude", -40, SyncAccuracyHigh},
		{"negative high boundary", -100, SyncAccuracyMedium},
		{"negative medium boundary", -500, SyncAccuracyLow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifySyncAccuracy(tc.driftMs))
		})
	}
}
