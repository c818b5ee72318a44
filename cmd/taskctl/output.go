package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Sternrassler/tasksync/pkg/task"
	"gopkg.in/yaml.v3"
)

// printer renders tasks in the selected output format.
type printer struct {
	format string
	w      io.Writer
}

func (p printer) tasks(tasks []task.Task) error {
	if tasks == nil {
		tasks = []task.Task{}
	}
	switch p.format {
	case "json":
		return p.json(tasks)
	case "yaml":
		return p.yaml(tasks)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTITLE\tSTATUS\tCREATED")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Status.Label(), formatTime(t.CreatedAt))
	}
	return tw.Flush()
}

func (p printer) task(t task.Task) error {
	switch p.format {
	case "json":
		return p.json(t)
	case "yaml":
		return p.yaml(t)
	}

	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "ID:\t%s\n", t.ID)
	fmt.Fprintf(tw, "Title:\t%s\n", t.Title)
	if t.Description != "" {
		fmt.Fprintf(tw, "Description:\t%s\n", t.Description)
	}
	fmt.Fprintf(tw, "Status:\t%s\n", t.Status.Label())
	fmt.Fprintf(tw, "Created:\t%s\n", formatTime(t.CreatedAt))
	return tw.Flush()
}

func (p printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (p printer) yaml(v any) error {
	enc := yaml.NewEncoder(p.w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
