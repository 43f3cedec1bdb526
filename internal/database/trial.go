package database

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// TrialExtensionExpr returns the SQL expression for
// max(coalesce(trial_ends_at, now), now) + days, evaluated by the database so
// concurrent grants stack without a read-modify-write in Go.
func TrialExtensionExpr(db *gorm.DB, now time.Time, days int) clause.Expr {
	now = now.UTC()
	switch db.Dialector.Name() {
	case "postgres":
		return gorm.Expr("GREATEST(COALESCE(trial_ends_at, ?), ?) + make_interval(days => ?)", now, now, days)
	case "mysql":
		return gorm.Expr("DATE_ADD(GREATEST(COALESCE(trial_ends_at, ?), ?), INTERVAL ? DAY)", now, now, days)
	default:
		// SQLite has no GREATEST and stores timestamps as text; julianday arithmetic keeps
		// the result in the layout the driver parses back.
		return gorm.Expr(
			"strftime('%Y-%m-%d %H:%M:%f', max(julianday(COALESCE(trial_ends_at, ?)), julianday(?)) + ?)",
			now, now, days,
		)
	}
}
