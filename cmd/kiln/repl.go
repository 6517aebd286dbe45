package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/mattn/go-runewidth"
	"github.com/olekukonko/tablewriter"

	"github.com/kilnrun/kiln/backend"
	"github.com/kilnrun/kiln/dispatcher"
	"github.com/kilnrun/kiln/logutil"
	"github.com/kilnrun/kiln/ml/backend/cpu"
	"github.com/kilnrun/kiln/normalizer"
	"github.com/kilnrun/kiln/session"
	"github.com/kilnrun/kiln/sessionmanager"
	"github.com/kilnrun/kiln/template"
	"github.com/kilnrun/kiln/tokenizer"
	"github.com/kilnrun/kiln/weights"
)

const maxTokensPerBatch = 4096

// loadCollaborators wires the backend, tokenizer, normalizer, and template
// for modelDir, per spec.md §6's external interfaces (tokenizer auto-detect,
// template selection by directory name). Missing tokenizer files are a
// fatal load error, per spec.md §7.
func loadCollaborators(modelDir string) (backend.Backend, tokenizer.Tokenizer, normalizer.Normalizer, template.Template, error) {
	files := make(map[string][]byte)
	for _, name := range []string{"tokenizer.model", "vocabs.txt"} {
		if data, err := os.ReadFile(modelDir + "/" + name); err == nil {
			files[name] = data
		}
	}

	tok, err := tokenizer.Detect(files)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("kiln: load %s: %w", modelDir, err)
	}

	loader := weights.NewInMemory()
	cfg, err := loader.Load(modelDir)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("kiln: load %s: %w", modelDir, err)
	}

	beCfg := cpu.ConfigFrom(cfg)
	be := cpu.New(beCfg)
	be.SeedWith(loader, modelDir)

	var norm normalizer.Normalizer = normalizer.Identity{}
	if _, ok := tok.(*tokenizer.BPE); ok {
		norm = normalizer.BytePairCommon{}
	}

	return be, tok, norm, template.Detect(modelDir), nil
}

func runREPL(modelDir string) error {
	be, tok, norm, tmpl, err := loadCollaborators(modelDir)
	if err != nil {
		return err
	}

	disp := dispatcher.New(be, maxTokensPerBatch)
	defer disp.Shutdown()

	defaultSample := backend.SampleMeta{Temperature: 0.8, TopK: 40, TopP: 0.95}
	mgr := sessionmanager.New(func() *session.Session {
		return session.New(be, tok, norm, tmpl, disp, defaultSample)
	})

	current := mgr.Create()
	sample := defaultSample

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Printf("kiln> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Printf("kiln> ")
			continue
		}

		if strings.HasPrefix(line, "/") {
			if handleCommand(mgr, &current, &sample, line) {
				return nil
			}
			fmt.Printf("kiln> ")
			continue
		}

		sess, ok := mgr.Get(current)
		if !ok {
			fmt.Fprintln(os.Stderr, "no current session; use /create")
			fmt.Printf("kiln> ")
			continue
		}

		sess.SetSample(sample)
		sess.Extend([]template.Message{{Role: template.RoleUser, Content: line}})
		bs := sess.Chat()

		ctx := context.Background()
		for {
			text, ok, err := bs.Decode(ctx)
			if err != nil {
				logutil.Trace("kiln: decode failed", "error", err)
				break
			}
			if !ok {
				break
			}
			fmt.Print(text)
		}
		fmt.Println()
		fmt.Printf("kiln> ")
	}
	return scanner.Err()
}

// handleCommand runs one "/"-prefixed REPL command, per spec.md §6's CLI
// surface. It returns true when the REPL should exit.
func handleCommand(mgr *sessionmanager.Manager, current *string, sample *backend.SampleMeta, line string) bool {
	fields := strings.Fields(line)
	switch fields[0] {
	case "/exit":
		return true

	case "/help":
		fmt.Println("/list, /create, /fork [id], /switch <id>, /drop [id], /args [key value], /help, /exit")

	case "/list":
		printSessionList(mgr, *current)

	case "/create":
		id := mgr.Create()
		*current = id
		fmt.Println("created", id)

	case "/fork":
		base := *current
		if len(fields) > 1 {
			base = fields[1]
		}
		newID, err := mgr.Fork(base)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return false
		}
		*current = newID
		fmt.Println("forked", base, "->", newID)

	case "/switch":
		if len(fields) < 2 {
			fmt.Fprintln(os.Stderr, "usage: /switch <id>")
			return false
		}
		if _, ok := mgr.Get(fields[1]); !ok {
			fmt.Fprintln(os.Stderr, "no such session", fields[1])
			return false
		}
		*current = fields[1]

	case "/drop":
		id := *current
		if len(fields) > 1 {
			id = fields[1]
		}
		mgr.Drop(id)
		if id == *current {
			*current = ""
		}

	case "/args":
		if len(fields) == 1 {
			fmt.Printf("temperature=%.2f top_k=%d top_p=%.2f\n", sample.Temperature, sample.TopK, sample.TopP)
			return false
		}
		if len(fields) != 3 {
			fmt.Fprintln(os.Stderr, "usage: /args [key value]")
			return false
		}
		applyArg(sample, fields[1], fields[2])

	default:
		fmt.Fprintln(os.Stderr, "unknown command", fields[0])
	}
	return false
}

func applyArg(sample *backend.SampleMeta, key, value string) {
	switch key {
	case "temperature":
		if v, err := strconv.ParseFloat(value, 32); err == nil {
			sample.Temperature = float32(v)
		}
	case "top_k":
		if v, err := strconv.Atoi(value); err == nil {
			sample.TopK = v
		}
	case "top_p":
		if v, err := strconv.ParseFloat(value, 32); err == nil {
			sample.TopP = float32(v)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown arg", key)
	}
}

// printSessionList renders /list as a table, grounded in the teacher's
// cmd_list.go ListHandler table formatting; runewidth truncates the id
// column so a long forked id never breaks the table's fixed width in a
// narrow terminal.
func printSessionList(mgr *sessionmanager.Manager, current string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "CURRENT"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetBorder(false)

	for _, id := range mgr.List() {
		marker := ""
		if id == current {
			marker = "*"
		}
		table.Append([]string{runewidth.Truncate(id, 32, "…"), marker})
	}
	table.Render()
}
