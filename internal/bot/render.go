package bot

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/walktheearth/bookdlbot/internal/retry"
	"github.com/walktheearth/bookdlbot/internal/zlibrary"
)

// User-facing message texts.
const (
	msgWelcome = "👋 Welcome! I can help you find and download books.\n\n" +
		"/search - find a book\n" +
		"/download - get a download link\n" +
		"/cancel - stop the current operation"
	msgOpenSource        = "I'm open source! Check out my code at %s"
	msgSearchPrompt      = "What book would you like to find? 📚"
	msgDownloadPrompt    = "What book would you like to download? 📥"
	msgCancelled         = "Operation cancelled."
	msgUnknownCommand    = "Unknown command. Try /search or /download."
	msgSearching         = "Searching for: %s..."
	msgFoundResults      = "Found %d results:"
	msgNoResults         = "No results found."
	msgPreparingDownload = "Preparing download for: %s..."
	msgInvalidSelection  = "Invalid selection."
	msgResultsExpired    = "Those results have expired. Please search again."
	msgConnectionFailed  = "Could not connect to the library. Please try again later."
	msgRemoteBusy        = "The library is not responding right now. Please try again later."
	msgGenericFailure    = "An error occurred: %v"
)

// failureMessage maps a remote failure to the single message the user sees,
// plus the failure class recorded in metrics.
func failureMessage(err error) (msg, class string) {
	switch {
	case errors.Is(err, zlibrary.ErrConnectionFailed):
		return msgConnectionFailed, "connection"
	case retry.IsTransient(err):
		return msgRemoteBusy, "transient"
	default:
		return fmt.Sprintf(msgGenericFailure, err), "fatal"
	}
}

// resultButtons builds one selection button per record. Button order matches
// record order, so the payload index addresses the published ResultSet.
func resultButtons(records []zlibrary.Record, action string) []Button {
	buttons := make([]Button, len(records))
	for i, rec := range records {
		label := fmt.Sprintf("%d. %s (%s)", i+1, rec.Title, rec.Year)
		if action == actionDownload {
			label = fmt.Sprintf("📥 %s (%s)", rec.Title, rec.Extension)
		}
		buttons[i] = Button{
			Label: label,
			Data:  fmt.Sprintf("%s_%d", action, i),
		}
	}
	return buttons
}

// renderRecord formats a record as an HTML message.
func renderRecord(rec zlibrary.Record) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📚 <b>%s</b>\n", html.EscapeString(rec.Title))
	if rec.AuthorsText != "" {
		fmt.Fprintf(&sb, "👤 <i>%s</i>\n", html.EscapeString(rec.AuthorsText))
	}
	fmt.Fprintf(&sb, "📅 %s | %s | %s\n",
		html.EscapeString(rec.Year),
		html.EscapeString(rec.Language),
		html.EscapeString(rec.Extension))
	if rec.SizeText != "" {
		fmt.Fprintf(&sb, "📏 %s\n", html.EscapeString(rec.SizeText))
	}
	fmt.Fprintf(&sb, "⭐ %s", html.EscapeString(rec.RatingText))
	if rec.URL != "" {
		fmt.Fprintf(&sb, "\n🔗 <a href=\"%s\">View on Z-Library</a>", html.EscapeString(rec.URL))
	}
	return sb.String()
}

// renderDownload formats a resolved record's download link as an HTML message.
func renderDownload(full *zlibrary.FullRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📥 <b>%s</b>\n", html.EscapeString(full.Title))
	fmt.Fprintf(&sb, "🔗 <a href=\"%s\">Click to download</a>", html.EscapeString(full.DownloadURL))
	if full.Extension != "" || full.SizeText != "" {
		fmt.Fprintf(&sb, "\n💾 Format: %s | Size: %s",
			html.EscapeString(full.Extension),
			html.EscapeString(full.SizeText))
	}
	return sb.String()
}
