// Package features turns per-unit occupancy into point-start events.
//
// It holds the pure, single-threaded building blocks of the feature stage:
// occupancy counting, the readiness score, the cliff detector, side
// attribution and the bounded reassembly buffer that restores id order.
package features
