package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alejandrodnm/mevdash/internal/domain"
	"github.com/alejandrodnm/mevdash/internal/ports"
	"github.com/olekukonko/tablewriter"
)

// Console implementa ports.Renderer.
type Console struct {
	out   io.Writer
	table bool
}

var _ ports.Renderer = (*Console)(nil)

// NewConsole crea un renderer que escribe a stdout.
func NewConsole(table bool) *Console {
	return &Console{out: os.Stdout, table: table}
}

// NewConsoleWriter crea un renderer para tests.
func NewConsoleWriter(w io.Writer, table bool) *Console {
	return &Console{out: w, table: table}
}

// Render imprime la vista en el modo configurado.
func (c *Console) Render(_ context.Context, view domain.View) error {
	if c.table {
		c.printFull(view)
	} else {
		c.printCompact(view)
	}
	return nil
}

// printCompact imprime una línea de estado y las primeras filas.
func (c *Console) printCompact(v domain.View) {
	var sb strings.Builder
	sb.WriteString(statusLine(v))

	shown := 0
	for _, tx := range v.Rows {
		if shown >= 3 {
			break
		}
		fmt.Fprintf(&sb, " | %s", domain.ShortHash(tx.Hash))
		if fd := v.Features[tx.Hash]; fd != nil && fd.Protocol != "" {
			fmt.Fprintf(&sb, " %s mev%.1f", fd.Protocol, fd.MEVScore)
		}
		shown++
	}
	fmt.Fprintln(c.out, sb.String())
}

// printFull imprime estado, tabla de la ventana y oportunidades.
func (c *Console) printFull(v domain.View) {
	fmt.Fprintf(c.out, "\n%s\n", statusLine(v))
	if v.SnapshotErr != "" {
		fmt.Fprintf(c.out, "  snapshot: %s\n", v.SnapshotErr)
	}

	if len(v.Rows) == 0 {
		fmt.Fprintln(c.out, "  (no transactions)")
	} else {
		c.printTable(v)
	}
	c.printOpportunities(v.Opportunities)
	c.printChains(v.Chains)
}

// printTable imprime la ventana visible con sus features.
func (c *Console) printTable(v domain.View) {
	table := tablewriter.NewWriter(c.out)
	table.Header("#", "Hash", "Sender", "Nonce", "Type", "Seen", "Protocol", "Category", "MEV", "Urgency")

	for i, tx := range v.Rows {
		protocol, category, mev, urgency := "-", "-", "-", "-"
		if fd := v.Features[tx.Hash]; fd != nil {
			protocol = orDash(fd.Protocol)
			category = orDash(fd.Category)
			mev = fmt.Sprintf("%.1f", fd.MEVScore)
			urgency = fmt.Sprintf("%.1f", fd.UrgencyScore)
		}
		table.Append(
			fmt.Sprintf("%d", v.StartIndex+i+1),
			domain.ShortHash(tx.Hash),
			domain.ShortHash(orDash(tx.Sender)),
			fmt.Sprintf("%d", tx.Nonce),
			fmt.Sprintf("%d", tx.TxType),
			seenLabel(tx.SeenUnixMs, v.At),
			protocol,
			category,
			mev,
			urgency,
		)
	}
	table.Render()
	fmt.Fprintf(c.out, "  rows %d–%d of %d\n", v.StartIndex+1, v.EndIndex, v.TotalRows)
}

// printOpportunities imprime las oportunidades más recientes.
func (c *Console) printOpportunities(opps []*domain.Opportunity) {
	if len(opps) == 0 {
		return
	}
	fmt.Fprintln(c.out, "  opportunities:")
	for i, o := range opps {
		if i >= 5 {
			fmt.Fprintf(c.out, "    … %d more\n", len(opps)-i)
			break
		}
		fmt.Fprintf(c.out, "    %-10s %-8s %.2f  %s  %s\n",
			o.Strategy, orDash(o.Status), o.Score, domain.ShortHash(o.TxHash), strings.Join(o.Reasons, ","))
	}
}

func (c *Console) printChains(chains []domain.ChainIngestStatus) {
	for _, ch := range chains {
		health := "ok"
		if !ch.Healthy {
			health = "DEGRADED"
		}
		fmt.Fprintf(c.out, "  chain %d: block %d lag %dms %s\n", ch.ChainID, ch.LatestBlock, ch.LagMs, health)
	}
}

// PrintHistory imprime el diario de oportunidades (modo -history).
func (c *Console) PrintHistory(opps []domain.Opportunity) {
	if len(opps) == 0 {
		fmt.Fprintln(c.out, "no opportunities recorded in range")
		return
	}
	table := tablewriter.NewWriter(c.out)
	table.Header("Detected", "Strategy", "Status", "Score", "Tx", "Protocol", "Reasons")
	for _, o := range opps {
		table.Append(
			time.UnixMilli(o.DetectedUnixMs).UTC().Format("01-02 15:04:05"),
			o.Strategy,
			orDash(o.Status),
			fmt.Sprintf("%.3f", o.Score),
			domain.ShortHash(o.TxHash),
			orDash(o.Protocol),
			strings.Join(o.Reasons, ","),
		)
	}
	table.Render()
}

// statusLine resume transporte, secuencia y métricas agregadas.
func statusLine(v domain.View) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "[%s] %s", v.At.Format("15:04:05"), v.Transport)
	if v.Attempt > 0 {
		fmt.Fprintf(&sb, " (retry %d)", v.Attempt)
	}
	fmt.Fprintf(&sb, " seq:%d", v.LastSeq)
	if v.Watermark > 0 {
		fmt.Fprintf(&sb, " wm:%d", v.Watermark)
	}
	fmt.Fprintf(&sb, " txs:%d opps:%d", v.TotalRows, len(v.Opportunities))
	if v.Stats != nil {
		fmt.Fprintf(&sb, " vol:%.2f ok:%.1f%%", v.Stats.TotalSignalVolume, v.Stats.SuccessRate()*100)
	}
	return sb.String()
}

func seenLabel(ms int64, now time.Time) string {
	if ms <= 0 {
		return "-"
	}
	age := now.Sub(time.UnixMilli(ms))
	if age < 0 {
		age = 0
	}
	return age.Truncate(100 * time.Millisecond).String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
