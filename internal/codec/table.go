package codec

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"portscope/internal/adapter"
	"portscope/internal/domain"
)

// TableCodec writes aligned text columns
type TableCodec struct{}

// NewTableCodec creates a new table codec
func NewTableCodec() *TableCodec {
	return &TableCodec{}
}

// Format returns the codec format identifier
func (c *TableCodec) Format() string {
	return "table"
}

func (c *TableCodec) ContentType() string {
	return "text/plain; charset=utf-8"
}

// Encode accepts a *domain.CollectionResult, a []domain.PortRecord, an
// *adapter.Detection or an *adapter.VerifyReport
func (c *TableCodec) Encode(v any, w io.Writer) error {
	switch t := v.(type) {
	case *domain.CollectionResult:
		if err := portTable(t.Ports, w); err != nil {
			return err
		}
		resultFooter(t, w)
		return nil
	case []domain.PortRecord:
		return portTable(t, w)
	case *adapter.Detection:
		return detectionTable(t, w)
	case *adapter.VerifyReport:
		return verifyTable(t, w)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func portTable(ports []domain.PortRecord, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTO\tADDRESS\tPORT\tOWNER\tSOURCE\tATTRIBUTION\tTARGET")
	for _, p := range ports {
		owner := p.Owner
		if p.Internal {
			owner += " (internal)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			p.Protocol, p.HostIP, p.HostPort, owner, p.Source, p.Provenance, dash(p.Target))
	}
	return tw.Flush()
}

func resultFooter(res *domain.CollectionResult, w io.Writer) {
	for _, f := range domain.Facets {
		if msg := res.Errors.Get(f); msg != "" {
			fmt.Fprintf(w, "\n%s: %s", f, msg)
		}
	}
	if res.Errors.Any() {
		fmt.Fprintln(w)
	}
	for feature, reason := range res.Degraded {
		fmt.Fprintf(w, "\ndegraded %s: %s", feature, reason)
	}
	if len(res.Degraded) > 0 {
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "\n%d ports on %s (%s)\n", len(res.Ports), res.PlatformName, res.Timestamp.Format("2006-01-02 15:04:05"))
}

func detectionTable(det *adapter.Detection, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\tPLATFORM\tKIND\tSCORE\tREASONS")
	for _, c := range det.Candidates {
		mark := ""
		if c.Platform == det.Selected {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
			mark, c.Platform, c.Kind, c.Score.Score, dash(strings.Join(c.Score.Reasons, "; ")))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if det.Forced {
		fmt.Fprintf(w, "\n%s forced by configuration\n", det.Selected)
	}
	return nil
}

func verifyTable(r *adapter.VerifyReport, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PORT\tOWNER\tSOURCE\tSTATE\tSERVICE")
	for _, v := range r.Results {
		service := v.Service
		if v.Product != "" {
			service = strings.TrimSpace(service + " " + v.Product)
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", v.Port, v.Owner, v.Source, v.State, dash(service))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(w, "\n%s: %d confirmed, %d unconfirmed, %d skipped\n",
		r.Target, r.Confirmed, r.Unconfirmed, r.Skipped)
	return nil
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
