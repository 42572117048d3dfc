// Command voiceclone-client is a small CLI for the voiceclone-service API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/book-expert/voiceclone-service/internal/apiclient"
)

// Flag descriptions.
const (
	flagURLDesc      = "Base URL of the voiceclone-service"
	flagKeyDesc      = "API key (omit when the service runs without auth)"
	flagTextDesc     = "Text to convert to speech"
	flagVoiceDesc    = "Voice name to synthesize with"
	flagLanguageDesc = "Language hint (default: service decides)"
	flagFormatDesc   = "Output format: wav, pcm, mp3, aac, opus, flac"
	flagOutputDesc   = "Output file path"
	flagHealthDesc   = "Check service health and exit"
	flagVoicesDesc   = "List available voices and exit"
	flagReloadDesc   = "Reload one voice's cached prompt and exit"
	flagReloadAll    = "Clear the prompt cache and reload API keys, then exit"
)

const (
	defaultURL        = "http://localhost:3011"
	defaultOutputFile = "output.wav"
	requestTimeout    = 10 * time.Minute
)

var errTextAndVoiceRequired = errors.New("both -text and -voice are required")

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	url       string
	key       string
	text      string
	voice     string
	language  string
	format    string
	output    string
	health    bool
	voices    bool
	reload    string
	reloadAll bool
}

func parseFlags() appFlags {
	var flags appFlags

	flag.StringVar(&flags.url, "url", defaultURL, flagURLDesc)
	flag.StringVar(&flags.key, "key", "", flagKeyDesc)
	flag.StringVar(&flags.text, "text", "", flagTextDesc)
	flag.StringVar(&flags.voice, "voice", "", flagVoiceDesc)
	flag.StringVar(&flags.language, "language", "", flagLanguageDesc)
	flag.StringVar(&flags.format, "format", "wav", flagFormatDesc)
	flag.StringVar(&flags.output, "output", "", flagOutputDesc)
	flag.BoolVar(&flags.health, "health", false, flagHealthDesc)
	flag.BoolVar(&flags.voices, "voices", false, flagVoicesDesc)
	flag.StringVar(&flags.reload, "reload", "", flagReloadDesc)
	flag.BoolVar(&flags.reloadAll, "reload-all", false, flagReloadAll)
	flag.Parse()

	return flags
}

func run() error {
	flags := parseFlags()

	client := apiclient.New(flags.url, flags.key, requestTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch {
	case flags.health:
		return handleHealth(ctx, client)
	case flags.voices:
		return handleVoices(ctx, client)
	case flags.reloadAll:
		return handleReloadAll(ctx, client)
	case flags.reload != "":
		return handleReload(ctx, client, flags.reload)
	default:
		return handleSynthesize(ctx, client, flags)
	}
}

func handleHealth(ctx context.Context, client *apiclient.Client) error {
	err := client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("service is not healthy: %w", err)
	}

	fmt.Println("Service is healthy")

	return nil
}

func handleVoices(ctx context.Context, client *apiclient.Client) error {
	names, err := client.ListVoices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list voices: %w", err)
	}

	if len(names) == 0 {
		fmt.Println("No voices available")

		return nil
	}

	fmt.Println(strings.Join(names, "\n"))

	return nil
}

func handleReload(ctx context.Context, client *apiclient.Client, voiceName string) error {
	err := client.ReloadVoice(ctx, voiceName)
	if err != nil {
		return fmt.Errorf("failed to reload voice %q: %w", voiceName, err)
	}

	fmt.Printf("Reloaded voice %q\n", voiceName)

	return nil
}

func handleReloadAll(ctx context.Context, client *apiclient.Client) error {
	err := client.ReloadAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to reload: %w", err)
	}

	fmt.Println("Cache cleared and keys reloaded")

	return nil
}

func handleSynthesize(ctx context.Context, client *apiclient.Client, flags appFlags) error {
	if flags.text == "" || flags.voice == "" {
		flag.Usage()

		return errTextAndVoiceRequired
	}

	audio, _, err := client.Synthesize(ctx, apiclient.SpeechRequest{
		Model:          "",
		Input:          flags.text,
		Voice:          flags.voice,
		ResponseFormat: flags.format,
		Speed:          0,
		Language:       flags.language,
	})
	if err != nil {
		return fmt.Errorf("synthesis failed: %w", err)
	}

	outputPath := flags.output
	if outputPath == "" {
		outputPath = outputPathForFormat(flags.format)
	}

	err = os.WriteFile(outputPath, audio, 0o600)
	if err != nil {
		return fmt.Errorf("failed to write output file %q: %w", outputPath, err)
	}

	fmt.Printf("Generated: %s\n", outputPath)

	return nil
}

func outputPathForFormat(format string) string {
	if format == "" || format == "wav" {
		return defaultOutputFile
	}

	return "output." + format
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
