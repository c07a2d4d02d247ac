package main

import (
	"encoding/base64"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/storynest/vignette/internal/api"
	"github.com/storynest/vignette/internal/config"
	"github.com/storynest/vignette/internal/story"
	"github.com/storynest/vignette/internal/vignette"
)

// --- splice ---

var spliceCmd = &cobra.Command{
	Use:   "splice <storyId>",
	Short: "Generate and slice the nine panels of a stored story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		async, _ := cmd.Flags().GetBool("async")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		body := map[string]any{"storyId": args[0], "async": async}
		if !async {
			printStep("Splicing story %s (this can take a few minutes)...", args[0])
		}
		resp, err := client.post(cmd.Context(), "/vignette/splice", body)
		if err != nil {
			return err
		}

		if async {
			var queued struct {
				JobID  string `json:"jobId"`
				Status string `json:"status"`
			}
			if err := decodeJSON(resp, &queued); err != nil {
				return err
			}
			printSuccess("Queued job %s", queued.JobID)
			return nil
		}

		var res vignette.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printVignette(res)
		return nil
	},
}

func init() {
	spliceCmd.Flags().Bool("async", false, "queue the splice and return a job id")
}

// --- generate ---

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a new story and splice it",
	Long: `Write a new story from free-form parameters, store it, and splice it
into nine panels.

Examples:
  vignette generate --param childName=Mia --param theme=space --param age=5`,
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetStringArray("param")
		params, err := parseParams(raw)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Writing and illustrating a new story...")
		resp, err := client.post(cmd.Context(), "/vignette/generate", params)
		if err != nil {
			return err
		}

		var res vignette.GenerateResult
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}

		printSuccess("%s", res.Title)
		printStatus("Story", "%s", res.StoryID)
		if res.Summary != "" {
			printStatus("Summary", "%s", res.Summary)
		}
		for i, p := range res.Panels {
			scene := ""
			if i < len(res.Scenes) {
				scene = res.Scenes[i]
			}
			fmt.Fprintf(stdout, "%s %s\n    %s\n", colorize(colorCyan, fmt.Sprintf("[%d]", p.Index)), scene, p.ImageURL)
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringArray("param", nil, "story parameter as key=value (repeatable)")
}

// parseParams turns key=value pairs into a parameter object. Integer and
// boolean values keep their type.
func parseParams(raw []string) (map[string]any, error) {
	params := make(map[string]any, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --param %q, want key=value", kv)
		}
		v = strings.TrimSpace(v)
		if i, err := strconv.Atoi(v); err == nil {
			params[k] = i
		} else if b, err := strconv.ParseBool(v); err == nil {
			params[k] = b
		} else {
			params[k] = v
		}
	}
	return params, nil
}

// --- show ---

var showCmd = &cobra.Command{
	Use:   "show <storyId>",
	Short: "Show the recorded panels of a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOut, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/vignette/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var res vignette.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		if jsonOut {
			return printJSON(res)
		}
		printVignette(res)
		return nil
	},
}

func init() {
	showCmd.Flags().Bool("json", false, "print raw JSON")
}

// --- story ---

var storyCmd = &cobra.Command{
	Use:   "story",
	Short: "Manage stored stories",
}

var storyImportCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a manuscript as a story",
	Long: `Import a manuscript as a story. Paragraphs become scene beats unless
scenes are given explicitly.

Examples:
  vignette story import --text "Once upon a time..." --title "Pip"
  vignette story import --url https://example.com/stories/pip
  vignette story import --file ./pip.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := importRequest(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/stories", req)
		if err != nil {
			return err
		}

		var created struct {
			StoryID    string `json:"storyId"`
			Title      string `json:"title"`
			SceneCount int    `json:"sceneCount"`
		}
		if err := decodeJSON(resp, &created); err != nil {
			return err
		}

		printSuccess("Imported %q as %s", created.Title, created.StoryID)
		if created.SceneCount < 9 {
			printWarning("Story has %d scenes; splicing needs 9", created.SceneCount)
		}
		return nil
	},
}

func importRequest(cmd *cobra.Command) (map[string]any, error) {
	text, _ := cmd.Flags().GetString("text")
	u, _ := cmd.Flags().GetString("url")
	file, _ := cmd.Flags().GetString("file")
	title, _ := cmd.Flags().GetString("title")
	summary, _ := cmd.Flags().GetString("summary")
	scenes, _ := cmd.Flags().GetStringArray("scene")

	if text == "" && u == "" && file == "" {
		return nil, fmt.Errorf("one of --text, --url, or --file is required")
	}

	req := map[string]any{}
	if title != "" {
		req["title"] = title
	}
	if summary != "" {
		req["summary"] = summary
	}
	if len(scenes) > 0 {
		req["scenes"] = scenes
	}

	switch {
	case text != "":
		req["type"] = "text"
		req["content"] = text
	case u != "":
		req["type"] = "url"
		req["url"] = u
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading file: %w", err)
		}
		if strings.EqualFold(filepath.Ext(file), ".pdf") {
			req["type"] = "pdf"
			req["content"] = base64.StdEncoding.EncodeToString(data)
		} else {
			req["type"] = "text"
			req["content"] = string(data)
		}
		if title == "" {
			req["title"] = strings.TrimSuffix(filepath.Base(file), filepath.Ext(file))
		}
	}
	return req, nil
}

func init() {
	storyImportCmd.Flags().String("text", "", "story text")
	storyImportCmd.Flags().String("url", "", "URL of an HTML, text, or PDF manuscript")
	storyImportCmd.Flags().String("file", "", "local manuscript (.pdf or text)")
	storyImportCmd.Flags().String("title", "", "story title")
	storyImportCmd.Flags().String("summary", "", "one-line summary")
	storyImportCmd.Flags().StringArray("scene", nil, "explicit scene beat (repeatable)")
}

var storyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored stories",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/stories?limit=%d", limit))
		if err != nil {
			return err
		}

		var stories []story.Story
		if err := decodeJSON(resp, &stories); err != nil {
			return err
		}

		if len(stories) == 0 {
			fmt.Fprintln(stdout, "No stories found.")
			return nil
		}
		for _, st := range stories {
			fmt.Fprintf(stdout, "%s  %-40s  %d scenes\n", colorize(colorCyan, st.ID), truncate(st.Title, 40), len(st.Scenes))
		}
		return nil
	},
}

var storyDeleteCmd = &cobra.Command{
	Use:   "delete <storyId>",
	Short: "Delete a story and its recorded panels",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/stories/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted story %s", args[0])
		return nil
	},
}

func init() {
	storyListCmd.Flags().Int("limit", 20, "maximum number of stories to list")
	storyCmd.AddCommand(storyImportCmd)
	storyCmd.AddCommand(storyListCmd)
	storyCmd.AddCommand(storyDeleteCmd)
}

// --- jobs ---

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect queued splices",
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <jobId>",
	Short: "Show the status of a queued splice",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/jobs/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}

		var job api.JobStatus
		if err := decodeJSON(resp, &job); err != nil {
			return err
		}

		printStatus("Job", "%s", job.ID)
		printStatus("Story", "%s", job.StoryID)
		printStatus("Status", "%s", job.Status)
		printStatus("Attempts", "%d", job.Attempts)
		if job.LastError != "" {
			printStatus("Last error", "%s", job.LastError)
		}
		return nil
	},
}

func init() {
	jobsCmd.AddCommand(jobsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadClient()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(stdout, "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		if err := cfg.Validate(); err != nil {
			printWarning("configuration is not ready to serve:\n%v", err)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value. Secret keys (API keys, auth.token) are
written to the platform secret store instead of the config file.

Valid keys: ` + strings.Join(config.ValidKeys(), ", "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset <key>",
	Short: "Remove a stored configuration value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
