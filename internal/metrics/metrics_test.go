package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	before := testutil.ToFloat64(admissions.WithLabelValues(OutcomeConflict))
	IncAdmission(OutcomeConflict)
	assert.Equal(t, before+1, testutil.ToFloat64(admissions.WithLabelValues(OutcomeConflict)))

	hits := testutil.ToFloat64(indexLookups.WithLabelValues("hit"))
	misses := testutil.ToFloat64(indexLookups.WithLabelValues("miss"))
	IncIndexLookup(true)
	IncIndexLookup(false)
	IncIndexLookup(false)
	assert.Equal(t, hits+1, testutil.ToFloat64(indexLookups.WithLabelValues("hit")))
	assert.Equal(t, misses+2, testutil.ToFloat64(indexLookups.WithLabelValues("miss")))

	IncTransition("cancelled", "ok")
	assert.GreaterOrEqual(t, testutil.ToFloat64(transitions.WithLabelValues("cancelled", "ok")), 1.0)

	SetIndexCoaches(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(indexCoaches))

	ObserveResolve("resolve", time.Now())
	assert.Equal(t, 1, testutil.CollectAndCount(resolveDuration))
}
