package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/akam1o/arca-dataops/pkg/volume"
)

const (
	outputTable = "table"
	outputYAML  = "yaml"
)

type volumeView struct {
	Name           string `yaml:"name"`
	Scope          string `yaml:"scope"`
	Size           string `yaml:"size"`
	Status         string `yaml:"status"`
	Message        string `yaml:"message,omitempty"`
	Clone          bool   `yaml:"clone"`
	CreatedBy      string `yaml:"created_by,omitempty"`
	Operation      string `yaml:"operation,omitempty"`
	SourceVolume   string `yaml:"source_volume,omitempty"`
	SourceSnapshot string `yaml:"source_snapshot,omitempty"`
}

type snapshotView struct {
	Name             string `yaml:"name"`
	Volume           string `yaml:"volume"`
	Created          string `yaml:"created,omitempty"`
	Ready            bool   `yaml:"ready"`
	RestoreSize      string `yaml:"restore_size,omitempty"`
	ReplicationLabel string `yaml:"replication_label,omitempty"`
	Error            string `yaml:"error,omitempty"`
}

type replicationView struct {
	UUID         string `yaml:"uuid"`
	Source       string `yaml:"source"`
	Destination  string `yaml:"destination"`
	Policy       string `yaml:"policy,omitempty"`
	State        string `yaml:"state"`
	Healthy      bool   `yaml:"healthy"`
	LastTransfer string `yaml:"last_transfer,omitempty"`
}

func sizeOf(v *volume.Volume) string {
	if v.SizeBytes > 0 {
		return volume.PrettySize(v.SizeBytes)
	}
	return v.Size
}

// newVolumeView renders a volume. The resolved view, when given, replaces
// the raw source names with their current resolvability.
func newVolumeView(v *volume.Volume, resolved *volume.VolumeEntry) volumeView {
	view := volumeView{
		Name:      v.Ref.Name,
		Scope:     v.Ref.Scope,
		Size:      sizeOf(v),
		Status:    string(v.Status),
		Message:   v.StatusMessage,
		Clone:     v.IsClone,
		CreatedBy: v.Lineage.CreatedBy,
		Operation: string(v.Lineage.Operation),
	}
	if resolved != nil {
		view.SourceVolume = resolved.View.SourceVolume
		view.SourceSnapshot = resolved.View.SourceSnapshot
		return view
	}
	if v.SourceVolume != nil {
		view.SourceVolume = v.SourceVolume.Name
	}
	if v.SourceSnapshot != nil {
		view.SourceSnapshot = v.SourceSnapshot.Name
	}
	return view
}

func newSnapshotView(s *volume.Snapshot, sourceVolume string) snapshotView {
	view := snapshotView{
		Name:             s.Ref.Name,
		Volume:           sourceVolume,
		Ready:            s.ReadyToUse,
		ReplicationLabel: s.ReplicationLabel,
		Error:            s.Error,
	}
	if view.Volume == "" {
		view.Volume = s.Ref.Volume.Name
	}
	if !s.CreatedAt.IsZero() {
		view.Created = s.CreatedAt.UTC().Format(time.RFC3339)
	}
	if s.RestoreSizeBytes > 0 {
		view.RestoreSize = volume.PrettySize(s.RestoreSizeBytes)
	}
	return view
}

func newReplicationView(r *volume.Replication) replicationView {
	view := replicationView{
		UUID:        r.UUID,
		Source:      r.Source.String(),
		Destination: r.Destination.String(),
		Policy:      r.Policy,
		State:       r.State,
		Healthy:     r.Healthy,
	}
	if r.LastTransfer != nil {
		view.LastTransfer = r.LastTransfer.State
	}
	return view
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func writeYAML(w io.Writer, v interface{}) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return enc.Close()
}

func printVolumes(w io.Writer, format string, views []volumeView) error {
	if format == outputYAML {
		return writeYAML(w, views)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSCOPE\tSIZE\tSTATUS\tCLONE\tSOURCE VOLUME\tSOURCE SNAPSHOT")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			v.Name, dash(v.Scope), dash(v.Size), v.Status, strconv.FormatBool(v.Clone),
			dash(v.SourceVolume), dash(v.SourceSnapshot))
	}
	return tw.Flush()
}

func printSnapshots(w io.Writer, format string, views []snapshotView) error {
	if format == outputYAML {
		return writeYAML(w, views)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tVOLUME\tCREATED\tREADY\tRESTORE SIZE")
	for _, s := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			s.Name, s.Volume, dash(s.Created), strconv.FormatBool(s.Ready), dash(s.RestoreSize))
	}
	return tw.Flush()
}

func printReplications(w io.Writer, format string, views []replicationView) error {
	if format == outputYAML {
		return writeYAML(w, views)
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "UUID\tSOURCE\tDESTINATION\tSTATE\tHEALTHY\tLAST TRANSFER")
	for _, r := range views {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.UUID, r.Source, r.Destination, dash(r.State), strconv.FormatBool(r.Healthy), dash(r.LastTransfer))
	}
	return tw.Flush()
}
