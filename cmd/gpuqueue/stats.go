package main

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/gogpu/gpuqueue"
	"github.com/gogpu/gpuqueue/backend"
	"github.com/gogpu/gpuqueue/internal/recycle"
	"github.com/gogpu/gpuqueue/profile"
)

func poolRow(name string, s recycle.Stats) []string {
	return []string{
		name,
		fmt.Sprintf("%d", s.Created),
		fmt.Sprintf("%d", s.InUse),
		fmt.Sprintf("%d", s.Retired),
		fmt.Sprintf("%d", s.Available),
	}
}

func displayStats(dev *gpuqueue.Device, timer *profile.Timer, producers, frames int, elapsed time.Duration) {
	st := dev.Stats()
	info := dev.Backend().Info()

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "%s on %s: %d frames in %s (%.0f frames/s)\n\n",
		info.Name, info.Adapter.Name, frames, elapsed.Round(time.Millisecond),
		float64(frames)/elapsed.Seconds())

	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Pool", "Created", "In use", "Retired", "Available"})
	for _, k := range dev.Queues().Kinds() {
		table.Append(poolRow(k.String()+" allocators", st.Allocators[k]))
	}
	table.Append(poolRow("upload pages", st.Upload.Pages))
	table.Append(poolRow("scratch pages", st.Scratch.Pages))
	for k := backend.HeapKind(0); k < backend.NumHeapKinds; k++ {
		table.Append(poolRow(k.String()+" heaps", st.Heaps[k]))
	}
	table.SetFooter([]string{"", "", "", "LARGE PAGES",
		fmt.Sprintf("%d", st.Upload.LargeCreated+st.Scratch.LargeCreated)})
	table.Render()

	buf.WriteString("\n")
	table = tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Queue", "Contexts", "Last completed"})
	for _, k := range dev.Queues().Kinds() {
		table.Append([]string{k.String(), fmt.Sprintf("%d", st.Contexts.Created[k]), st.Completed[k].String()})
	}
	table.Render()

	buf.WriteString("\n")
	table = tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Producer", "Mean latency"})
	for i := 0; i < producers; i++ {
		table.Append([]string{producerName(i), timer.Average(producerName(i)).String()})
	}
	table.SetFooter([]string{"PIPELINES", fmt.Sprintf("%d compiled, %d hits", st.Pipelines.Compiles, st.Pipelines.Hits)})
	table.Render()

	os.Stdout.Write(buf.Bytes())
}
