package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
)

// --- Phase 1: Configuration & Environment ---

type Config struct {
	Token          string
	GuildID        string
	DatabasePath   string
	OwnerIDs       []string
	Silent         bool
	PotProviderURL string
	YoutubePrefix  string
	YTMusicPrefix  string
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	token := os.Getenv("DISCORD_TOKEN")
	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	potURL := os.Getenv("POT_PROVIDER_URL")
	if potURL == "" {
		potURL = "http://127.0.0.1:4416"
	}

	ytPrefix := os.Getenv("VOICE_YT_PREFIX")
	if ytPrefix == "" {
		ytPrefix = "[YT]"
	}

	ytmPrefix := os.Getenv("VOICE_YTM_PREFIX")
	if ytmPrefix == "" {
		ytmPrefix = "[YTM]"
	}

	ownerIDsStr := os.Getenv("OWNER_IDS")
	var ownerIDs []string
	if ownerIDsStr != "" {
		ownerIDs = strings.Split(ownerIDsStr, ",")
		for i := range ownerIDs {
			ownerIDs[i] = strings.TrimSpace(ownerIDs[i])
		}
	}

	cfg := &Config{
		Token:          token,
		GuildID:        os.Getenv("GUILD_ID"),
		DatabasePath:   dbPath,
		OwnerIDs:       ownerIDs,
		Silent:         silent,
		PotProviderURL: potURL,
		YoutubePrefix:  ytPrefix,
		YTMusicPrefix:  ytmPrefix,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	return nil
}

// IsOwner reports whether the given user is listed in OWNER_IDS.
func (c *Config) IsOwner(userID snowflake.ID) bool {
	for _, id := range c.OwnerIDs {
		if id == userID.String() {
			return true
		}
	}
	return false
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "bot"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") {
			if modData, err := os.ReadFile("go.mod"); err == nil {
				lines := strings.Split(string(modData), "\n")
				if len(lines) > 0 && strings.HasPrefix(lines[0], "module ") {
					parts := strings.Split(lines[0], "/")
					projectName = strings.TrimSpace(parts[len(parts)-1])
				}
			}
		}
	}
	return projectName
}

// --- Phase 2: Database Connection & Lifecycle ---

var DB *sql.DB

func InitDatabase(ctx context.Context, dataSourceName string) error {
	var err error
	DB, err = sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return err
	}

	DB.SetMaxOpenConns(5)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA cache_size=-2000;",
	}

	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	for _, p := range pragmas {
		if _, err := DB.ExecContext(initCtx, p); err != nil {
			return fmt.Errorf(MsgDatabasePragmaError, p, err)
		}
	}

	tx, err := DB.BeginTx(initCtx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	tableQueries := []string{
		`CREATE TABLE IF NOT EXISTS plays (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			track_url TEXT NOT NULL,
			title TEXT,
			user_id TEXT NOT NULL,
			user_name TEXT,
			guild_id TEXT NOT NULL,
			played_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			track_url TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			author_name TEXT,
			content TEXT NOT NULL,
			offset_ms INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS reactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			track_url TEXT NOT NULL,
			guild_id TEXT NOT NULL,
			author_id TEXT NOT NULL,
			author_name TEXT,
			emoji TEXT NOT NULL,
			offset_ms INTEGER NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS bot_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_track ON comments (track_url, guild_id, offset_ms)`,
		`CREATE INDEX IF NOT EXISTS idx_reactions_track ON reactions (track_url, guild_id, offset_ms)`,
	}

	for _, q := range tableQueries {
		if _, err := tx.ExecContext(initCtx, q); err != nil {
			return fmt.Errorf(MsgDatabaseTableError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	migrations := []string{
		"ALTER TABLE comments ADD COLUMN author_name TEXT",
		"ALTER TABLE reactions ADD COLUMN author_name TEXT",
		"ALTER TABLE plays ADD COLUMN user_name TEXT",
	}

	for _, m := range migrations {
		if _, err := DB.ExecContext(initCtx, m); err != nil {
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
		}
	}

	LogDatabase(MsgDatabaseInitSuccess)
	return nil
}

func CloseDatabase() {
	if DB != nil {
		DB.Close()
	}
}

// --- Phase 3: Infrastructure & Bot Persistence ---

// BotConfig helpers are used by the loader for mode tracking and state.
func GetBotConfig(ctx context.Context, key string) (string, error) {
	if DB == nil {
		return "", nil
	}
	var value string
	err := DB.QueryRowContext(ctx, "SELECT value FROM bot_config WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func SetBotConfig(ctx context.Context, key, value string) error {
	if DB == nil {
		return nil
	}
	_, err := DB.ExecContext(ctx, `
		INSERT INTO bot_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	return err
}

// --- Phase 4: Application Logic (Plays) ---

type PlayStat struct {
	TrackURL string
	Title    string
	Count    int
}

func RecordPlay(ctx context.Context, trackURL, title string, userID snowflake.ID, userName string, guildID snowflake.ID) error {
	_, err := DB.ExecContext(ctx, `
		INSERT INTO plays (track_url, title, user_id, user_name, guild_id)
		VALUES (?, ?, ?, ?, ?)
	`, trackURL, title, userID.String(), userName, guildID.String())
	return err
}

func GetTopPlays(ctx context.Context, guildID snowflake.ID, limit int) ([]PlayStat, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT track_url, COALESCE(MAX(title), ''), COUNT(*) AS plays
		FROM plays WHERE guild_id = ?
		GROUP BY track_url ORDER BY plays DESC, track_url ASC LIMIT ?
	`, guildID.String(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []PlayStat
	for rows.Next() {
		var s PlayStat
		if err := rows.Scan(&s.TrackURL, &s.Title, &s.Count); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// --- Phase 5: Application Logic (Annotations) ---

type CommentRecord struct {
	ID         int64
	TrackURL   string
	GuildID    snowflake.ID
	AuthorID   snowflake.ID
	AuthorName string
	Content    string
	OffsetMs   int64
	CreatedAt  time.Time
}

type ReactionRecord struct {
	ID         int64
	TrackURL   string
	GuildID    snowflake.ID
	AuthorID   snowflake.ID
	AuthorName string
	Emoji      string
	OffsetMs   int64
	CreatedAt  time.Time
}

func SaveComment(ctx context.Context, c *CommentRecord) error {
	if c.OffsetMs < 0 {
		return fmt.Errorf("invalid comment offset: %d", c.OffsetMs)
	}
	res, err := DB.ExecContext(ctx, `
		INSERT INTO comments (track_url, guild_id, author_id, author_name, content, offset_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, c.TrackURL, c.GuildID.String(), c.AuthorID.String(), c.AuthorName, c.Content, c.OffsetMs)
	if err != nil {
		return err
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

func SaveReaction(ctx context.Context, r *ReactionRecord) error {
	if r.OffsetMs < 0 {
		return fmt.Errorf("invalid reaction offset: %d", r.OffsetMs)
	}
	res, err := DB.ExecContext(ctx, `
		INSERT INTO reactions (track_url, guild_id, author_id, author_name, emoji, offset_ms)
		VALUES (?, ?, ?, ?, ?, ?)
	`, r.TrackURL, r.GuildID.String(), r.AuthorID.String(), r.AuthorName, r.Emoji, r.OffsetMs)
	if err != nil {
		return err
	}
	r.ID, _ = res.LastInsertId()
	return nil
}

func GetComments(ctx context.Context, trackURL string, guildID snowflake.ID) ([]CommentRecord, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT id, track_url, guild_id, author_id, author_name, content, offset_ms, created_at
		FROM comments WHERE track_url = ? AND guild_id = ?
		ORDER BY offset_ms ASC, id ASC
	`, trackURL, guildID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []CommentRecord
	for rows.Next() {
		var c CommentRecord
		var gid, aid string
		var name sql.NullString
		if err := rows.Scan(&c.ID, &c.TrackURL, &gid, &aid, &name, &c.Content, &c.OffsetMs, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.GuildID, err = snowflake.Parse(gid)
		if err != nil {
			return nil, fmt.Errorf("failed to parse guild ID '%s' for comment %d: %w", gid, c.ID, err)
		}
		c.AuthorID, err = snowflake.Parse(aid)
		if err != nil {
			return nil, fmt.Errorf("failed to parse author ID '%s' for comment %d: %w", aid, c.ID, err)
		}
		c.AuthorName = name.String
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

func GetReactions(ctx context.Context, trackURL string, guildID snowflake.ID) ([]ReactionRecord, error) {
	rows, err := DB.QueryContext(ctx, `
		SELECT id, track_url, guild_id, author_id, author_name, emoji, offset_ms, created_at
		FROM reactions WHERE track_url = ? AND guild_id = ?
		ORDER BY offset_ms ASC, id ASC
	`, trackURL, guildID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var reactions []ReactionRecord
	for rows.Next() {
		var r ReactionRecord
		var gid, aid string
		var name sql.NullString
		if err := rows.Scan(&r.ID, &r.TrackURL, &gid, &aid, &name, &r.Emoji, &r.OffsetMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.GuildID, err = snowflake.Parse(gid)
		if err != nil {
			return nil, fmt.Errorf("failed to parse guild ID '%s' for reaction %d: %w", gid, r.ID, err)
		}
		r.AuthorID, err = snowflake.Parse(aid)
		if err != nil {
			return nil, fmt.Errorf("failed to parse author ID '%s' for reaction %d: %w", aid, r.ID, err)
		}
		r.AuthorName = name.String
		reactions = append(reactions, r)
	}
	return reactions, rows.Err()
}

// GetAnnotationCounts returns the number of stored comments and reactions for a track.
func GetAnnotationCounts(ctx context.Context, trackURL string, guildID snowflake.ID) (int, int, error) {
	var comments, reactions int
	err := DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM comments WHERE track_url = ? AND guild_id = ?", trackURL, guildID.String()).Scan(&comments)
	if err != nil {
		return 0, 0, err
	}
	err = DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM reactions WHERE track_url = ? AND guild_id = ?", trackURL, guildID.String()).Scan(&reactions)
	if err != nil {
		return 0, 0, err
	}
	return comments, reactions, nil
}

// ClearAnnotations deletes stored comments and reactions for a guild.
// An empty trackURL clears all tracks; a zero before time means no cutoff.
func ClearAnnotations(ctx context.Context, trackURL string, guildID snowflake.ID, before time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"comments", "reactions"} {
		query := "DELETE FROM " + table + " WHERE guild_id = ?"
		args := []any{guildID.String()}
		if trackURL != "" {
			query += " AND track_url = ?"
			args = append(args, trackURL)
		}
		if !before.IsZero() {
			query += " AND created_at < ?"
			args = append(args, before.UTC())
		}
		res, err := DB.ExecContext(ctx, query, args...)
		if err != nil {
			return total, err
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}
