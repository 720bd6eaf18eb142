package main

import (
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
)

func TestFakeEvent(t *testing.T) {
	faker := gofakeit.New(42)
	sessions := []string{"s-1", "s-2"}

	for i := 0; i < 200; i++ {
		event := fakeEvent(faker, sessions)

		assert.NotEmpty(t, event.Name)
		assert.GreaterOrEqual(t, event.WeightKg, 0.05)
		assert.LessOrEqual(t, event.WeightKg, 30.0)
		assert.GreaterOrEqual(t, event.ContentValueUSD, 1.0)
		if assert.NotNil(t, event.SessionID) {
			assert.Contains(t, sessions, *event.SessionID)
		}
		if event.TypeID != nil {
			assert.True(t, *event.TypeID >= 1 && *event.TypeID <= 99)
		}
	}
}
