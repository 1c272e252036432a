package services

import (
	"github.com/custodia-labs/storesync/internal/core/domain"
	"github.com/custodia-labs/storesync/internal/core/ports/driven"
)

var _ driven.SyncMetrics = nopMetrics{}

// nopMetrics is used when no metrics sink is configured
type nopMetrics struct{}

func (nopMetrics) RunFinished(domain.EntityType, string, int, float64) {}
func (nopMetrics) PageProcessed(domain.EntityType, int) {}
func (nopMetrics) LockReclaimed(domain.EntityType) {}
func (nopMetrics) SchedulingDecision(domain.EntityType, domain.SchedulingDecision) {}
