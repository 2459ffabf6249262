package game

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/chesspark/chesspark-server/internal/domain"
)

// Points awarded on completion.
const (
	pointsWin  = 3
	pointsDraw = 1
)

// Archive persists completed games and user stats in postgres.
type Archive struct {
	db *sql.DB
}

func NewArchive(databaseURL string) (*Archive, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("postgres url is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Archive{db: db}, nil
}

func (a *Archive) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}

// EnsureSchema creates the archive tables when missing.
func (a *Archive) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(64) PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			points INT NOT NULL DEFAULT 0,
			games_played INT NOT NULL DEFAULT 0,
			games_won INT NOT NULL DEFAULT 0,
			last_seen_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS games (
			game_id VARCHAR(64) PRIMARY KEY,
			white_id VARCHAR(64) NOT NULL,
			white_name VARCHAR(255),
			black_id VARCHAR(64) NOT NULL,
			black_name VARCHAR(255),
			result VARCHAR(16) NOT NULL,
			result_method VARCHAR(32),
			winner_id VARCHAR(64),
			moves_uci TEXT,
			moves_san TEXT,
			pgn TEXT,
			started_at TIMESTAMPTZ,
			ended_at TIMESTAMPTZ,
			duration_ms BIGINT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_username ON users (LOWER(username))`,
	}
	for _, q := range stmts {
		if _, err := a.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// UpsertUser makes sure a users row exists with the current display name.
func (a *Archive) UpsertUser(ctx context.Context, id, username string) error {
	q := `INSERT INTO users (id, username, last_seen_at)
	      VALUES ($1, $2, CURRENT_TIMESTAMP)
	      ON CONFLICT (id) DO UPDATE SET
	        username = EXCLUDED.username,
	        last_seen_at = CURRENT_TIMESTAMP`
	_, err := a.db.ExecContext(ctx, q, strings.TrimSpace(id), strings.TrimSpace(username))
	return err
}

// SaveResult upserts a final game row, including the built PGN text.
func (a *Archive) SaveResult(ctx context.Context, g *Game, method string) error {
	if g == nil || !g.Terminal() {
		return nil
	}
	movesUCIRaw, _ := json.Marshal(g.MovesUCI)
	sans := make([]string, 0, len(g.Moves))
	for _, mv := range g.Moves {
		sans = append(sans, mv.SAN)
	}
	movesSANRaw, _ := json.Marshal(sans)
	duration := g.LastMoveAt.Sub(g.CreatedAt).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	pgn := buildPGN(g, mapResultToPGN(g.Result), method)

	q := `INSERT INTO games (
	        game_id, white_id, white_name, black_id, black_name,
	        result, result_method, winner_id, moves_uci, moves_san, pgn,
	        started_at, ended_at, duration_ms
	      ) VALUES (
	        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14
	      ) ON CONFLICT (game_id) DO UPDATE SET
	        result=EXCLUDED.result,
	        result_method=EXCLUDED.result_method,
	        winner_id=EXCLUDED.winner_id,
	        moves_uci=EXCLUDED.moves_uci,
	        moves_san=EXCLUDED.moves_san,
	        pgn=EXCLUDED.pgn,
	        ended_at=EXCLUDED.ended_at,
	        duration_ms=EXCLUDED.duration_ms`
	_, err := a.db.ExecContext(ctx, q,
		g.ID,
		g.WhiteID, g.WhiteName,
		g.BlackID, g.BlackName,
		string(g.Result), strings.TrimSpace(method), g.WinnerID,
		string(movesUCIRaw), string(movesSANRaw), pgn,
		g.CreatedAt, g.LastMoveAt, duration,
	)
	return err
}

// ApplyStats updates both participants' aggregate stats for a finished game.
func (a *Archive) ApplyStats(ctx context.Context, g *Game) error {
	if g == nil || g.Status != StatusCompleted {
		return nil
	}
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for _, uid := range []string{g.WhiteID, g.BlackID} {
		points := 0
		won := 0
		switch {
		case g.Result == ResultDraw:
			points = pointsDraw
		case g.WinnerID == uid:
			points = pointsWin
			won = 1
		}
		q := `UPDATE users SET
		        points = points + $2,
		        games_played = games_played + 1,
		        games_won = games_won + $3
		      WHERE id = $1`
		if _, err := tx.ExecContext(ctx, q, uid, points, won); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetUser returns the stats row for id.
func (a *Archive) GetUser(ctx context.Context, id string) (*domain.User, error) {
	q := `SELECT id, username, points, games_played, games_won, last_seen_at
	      FROM users WHERE id = $1`
	var u domain.User
	err := a.db.QueryRowContext(ctx, q, id).Scan(
		&u.ID, &u.Username, &u.Points, &u.GamesPlayed, &u.GamesWon, &u.LastSeenAt,
	)
	if err == sql.ErrNoRows {
		return nil, domain.NotFound("user not found")
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByUsername does a case-insensitive substring match on display names.
func (a *Archive) FindByUsername(ctx context.Context, pattern string) ([]domain.User, error) {
	q := `SELECT id, username, points, games_played, games_won, last_seen_at
	      FROM users
	      WHERE username ILIKE '%' || $1 || '%'
	      ORDER BY LOWER(username) ASC
	      LIMIT 50`
	rows, err := a.db.QueryContext(ctx, q, strings.TrimSpace(pattern))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.User
	for rows.Next() {
		var u domain.User
		if err := rows.Scan(&u.ID, &u.Username, &u.Points, &u.GamesPlayed, &u.GamesWon, &u.LastSeenAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func mapResultToPGN(result Result) string {
	switch result {
	case ResultWhiteWin:
		return "1-0"
	case ResultBlackWin:
		return "0-1"
	case ResultDraw:
		return "1/2-1/2"
	default:
		return "*"
	}
}

func buildPGN(g *Game, pgnResult, method string) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.LastMoveAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Chesspark Casual\"]\n")
	b.WriteString("[Site \"chesspark\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhiteName)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackName)))
	if strings.TrimSpace(method) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(method))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", pgnResult))

	for i := 0; i < len(g.Moves); i += 2 {
		turn := (i / 2) + 1
		b.WriteString(fmt.Sprintf("%d. %s", turn, strings.TrimSpace(g.Moves[i].SAN)))
		if i+1 < len(g.Moves) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.Moves[i+1].SAN))
		}
		b.WriteString(" ")
	}
	b.WriteString(pgnResult)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
