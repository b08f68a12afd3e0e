package classify

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
)

// WriteText renders r as an aligned table of roles followed by columns.
func (r Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintf(tw, "job\t%s\n", r.Job)
	fmt.Fprintf(tw, "run\t%s\n", r.RunID)
	fmt.Fprintf(tw, "fingerprint\t%s\n", r.Fingerprint)
	fmt.Fprintf(tw, "rows sampled\t%d\n", r.RowsSampled)
	fmt.Fprintf(tw, "matched\t%d/%d\n", r.Matched, len(r.Roles))
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "ROLE\tPATTERN\tCOLUMN")
	for _, role := range r.Roles {
		col := role.Column
		if !role.Resolved() {
			col = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", role.Role, role.Match, col)
	}
	fmt.Fprintln(tw)

	fmt.Fprintln(tw, "COLUMN\tPOSITION\tINDEX\tROLE")
	for _, c := range r.Columns {
		idx, role := strconv.Itoa(c.Index), c.Role
		if c.Index < 0 {
			idx = "unresolved"
		}
		if role == "" {
			role = "-"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", c.Name, c.Position, idx, role)
	}
	return tw.Flush()
}
