package parser

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAbbrevLearnAndExpand(t *testing.T) {
	a := NewAbbrevTable()

	a.Learn("Functional programming (FP) - R. Slavescu - 40")
	a.Learn("Not a teaching title")

	assert.Equal(t, map[string]string{"FP": "Functional Programming"}, a.Mappings())
	assert.Equal(t, "Functional Programming 479", a.Expand("FP 479"))
	assert.Equal(t, "PLF 12", a.Expand("PLF 12"), "unknown abbreviation passes through")
	assert.Equal(t, "lowercase fp", a.Expand("lowercase fp"))
}

func TestAbbrevFirstMappingWins(t *testing.T) {
	a := NewAbbrevTable()
	a.Learn("Functional programming (FP) - X")
	a.Learn("Fluid physics (FP) - Y")

	assert.Equal(t, "Functional Programming", a.Mappings()["FP"])
}

func TestAbbrevConcurrentAccess(t *testing.T) {
	a := NewAbbrevTable()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			a.Learn("Functional programming (FP) - X")
		}()
		go func() {
			defer wg.Done()
			_ = a.Expand("FP 101")
		}()
	}
	wg.Wait()
	assert.Equal(t, "Functional Programming 101", a.Expand("FP 101"))
}
