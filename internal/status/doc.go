// Package status periodically samples client statistics and reports them.
//
// Each report carries the full snapshot plus the dispatch, handler error and
// slow handler counts since the previous report, so operators see activity
// rather than ever-growing totals.
package status
