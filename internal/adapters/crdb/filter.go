package crdb

import (
	"strconv"
	"strings"

	"github.com/robertarktes/vehicle-rentals/internal/domain"
)

// bookingWhere renders filter as a WHERE clause over the bookings table
// aliased as b. Placeholders continue after the given args.
func bookingWhere(filter domain.BookingFilter, args []interface{}) (string, []interface{}) {
	var conds []string
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}

	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, s := range filter.Statuses {
			statuses[i] = string(s)
		}
		add("b.status = ANY(?)", statuses)
	}
	if filter.StartsBy != nil {
		add("b.start_date <= ?", filter.StartsBy.UTC())
	}
	if filter.EndsBy != nil {
		add("b.end_date <= ?", filter.EndsBy.UTC())
	}
	if filter.EndsNotBefore != nil {
		add("b.end_date >= ?", filter.EndsNotBefore.UTC())
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
