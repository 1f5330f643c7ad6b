package notify

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"tft-tracker/internal/constants"
	"tft-tracker/internal/domain"
	"tft-tracker/internal/repository"
	"tft-tracker/internal/riot"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var commands = []*discordgo.ApplicationCommand{
	{
		Name:        "track",
		Description: "Register a player to be tracked",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "username",
				Description: "In-game username",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "tag",
				Description: "In-game tag (e.g. #EUW)",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "region",
				Description: "Routing region",
				Required:    true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "America", Value: "americas"},
					{Name: "Europe", Value: "europe"},
					{Name: "Asia", Value: "asia"},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "platform",
				Description: "Game platform",
				Required:    true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "EUW", Value: "euw1"},
					{Name: "EUNE", Value: "eun1"},
					{Name: "NA", Value: "na1"},
					{Name: "KR", Value: "kr"},
				},
			},
		},
	},
	{
		Name:        "untrack",
		Description: "Stop tracking a player",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "username",
				Description: "In-game username",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "tag",
				Description: "In-game tag",
				Required:    true,
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "region",
				Description: "Routing region",
				Required:    true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "America", Value: "americas"},
					{Name: "Europe", Value: "europe"},
					{Name: "Asia", Value: "asia"},
				},
			},
		},
	},
	{
		Name:        "leaderboard",
		Description: "Print the leaderboard",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "mode",
				Description: "The game mode you want",
				Required:    true,
				Choices: []*discordgo.ApplicationCommandOptionChoice{
					{Name: "Solo", Value: "solo"},
					{Name: "Double Up", Value: "doubleup"},
				},
			},
		},
	},
}

// CommandHandler wires the roster management and leaderboard slash commands.
type CommandHandler struct {
	riot       *riot.Client
	players    *repository.PlayerRepository
	logger     zerolog.Logger
	registered []*discordgo.ApplicationCommand
}

func NewCommandHandler(client *riot.Client, players *repository.PlayerRepository, logger zerolog.Logger) *CommandHandler {
	return &CommandHandler{
		riot:    client,
		players: players,
		logger:  logger.With().Str("component", "commands").Logger(),
	}
}

// Register creates the slash commands and installs the interaction router.
// Must run after the session is open, so the application id is known.
func (h *CommandHandler) Register(s *discordgo.Session) error {
	appID := s.State.User.ID
	for _, cmd := range commands {
		created, err := s.ApplicationCommandCreate(appID, "", cmd)
		if err != nil {
			return fmt.Errorf("failed to register command %s: %w", cmd.Name, err)
		}
		h.registered = append(h.registered, created)
	}

	s.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		if i.Type != discordgo.InteractionApplicationCommand {
			return
		}
		name := i.ApplicationCommandData().Name
		h.logger.Info().Str("command", name).Msg("command received")

		ctx, cancel := context.WithTimeout(context.Background(), constants.RequestTimeout)
		defer cancel()

		switch name {
		case "track":
			h.handleTrack(ctx, s, i)
		case "untrack":
			h.handleUntrack(ctx, s, i)
		case "leaderboard":
			h.handleLeaderboard(ctx, s, i)
		}
	})

	h.logger.Info().Int("count", len(h.registered)).Msg("commands registered")
	return nil
}

func (h *CommandHandler) Unregister(s *discordgo.Session) {
	appID := s.State.User.ID
	for _, cmd := range h.registered {
		if err := s.ApplicationCommandDelete(appID, "", cmd.ID); err != nil {
			h.logger.Warn().Err(err).Str("command", cmd.Name).Msg("failed to delete command")
		}
	}
}

func (h *CommandHandler) handleTrack(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	username := opts["username"]
	tag := strings.TrimPrefix(opts["tag"], "#")
	region := opts["region"]
	platform := opts["platform"]

	deferReply(s, i)

	puuid, err := h.riot.GetPlayerID(ctx, region, username, tag)
	if err != nil {
		h.logger.Warn().Err(err).Str("riot_id", username+"#"+tag).Msg("player lookup failed")
		followUp(s, i, fmt.Sprintf("**%s#%s** in %s not found.", username, tag, region))
		return
	}

	exists, err := h.players.PlayerExists(ctx, puuid)
	if err != nil {
		h.logger.Error().Err(err).Msg("existence check failed")
		followUp(s, i, "Something went wrong, try again later.")
		return
	}
	if exists {
		followUp(s, i, fmt.Sprintf("**%s#%s** is already tracked!", username, tag))
		return
	}

	// the two seed fetches are independent
	var lastMatch string
	var snaps domain.RankSnapshots
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		lastMatch, err = h.riot.GetLastMatchID(gCtx, region, puuid)
		return err
	})
	g.Go(func() error {
		var err error
		snaps, err = h.riot.GetRankSnapshots(gCtx, platform, puuid)
		if riot.IsNotFound(err) {
			snaps = domain.RankSnapshots{}
			return nil
		}
		return err
	})
	if err := g.Wait(); err != nil {
		h.logger.Error().Err(err).Str("puuid", puuid).Msg("failed to seed player data")
		followUp(s, i, "Could not fetch player data, try again later.")
		return
	}

	player := &domain.TrackedPlayer{
		Puuid:    puuid,
		Region:   region,
		Platform: platform,
		Name:     username,
		Tag:      tag,
		Solo:     snaps.Solo,
		DoubleUp: snaps.DoubleUp,
	}
	if lastMatch != "" {
		player.LastMatchID = &lastMatch
	}

	if _, err := h.players.RegisterPlayer(ctx, player); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicatePlayer):
			followUp(s, i, fmt.Sprintf("**%s#%s** is already tracked!", username, tag))
		case errors.Is(err, repository.ErrMissingField):
			followUp(s, i, "Username, tag, region and platform are all required.")
		default:
			h.logger.Error().Err(err).Str("puuid", puuid).Msg("registration failed")
			followUp(s, i, "Something went wrong, try again later.")
		}
		return
	}

	followUp(s, i, fmt.Sprintf("Registered player: **%s#%s**.", username, tag))
}

func (h *CommandHandler) handleUntrack(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	opts := optionMap(i)
	username := opts["username"]
	tag := strings.TrimPrefix(opts["tag"], "#")
	region := opts["region"]

	deferReply(s, i)

	puuid, err := h.riot.GetPlayerID(ctx, region, username, tag)
	if err != nil {
		followUp(s, i, fmt.Sprintf("**%s#%s** in %s not found.", username, tag, region))
		return
	}

	removed, err := h.players.RemovePlayer(ctx, puuid)
	if err != nil {
		h.logger.Error().Err(err).Str("puuid", puuid).Msg("removal failed")
		followUp(s, i, "Something went wrong, try again later.")
		return
	}
	if !removed {
		followUp(s, i, fmt.Sprintf("**%s#%s** was not tracked.", username, tag))
		return
	}
	followUp(s, i, fmt.Sprintf("Stopped tracking **%s#%s**.", username, tag))
}

func (h *CommandHandler) handleLeaderboard(ctx context.Context, s *discordgo.Session, i *discordgo.InteractionCreate) {
	mode := optionMap(i)["mode"]

	players, err := h.players.ListTrackedPlayers(ctx)
	if err != nil || len(players) == 0 {
		reply(s, i, "No data")
		return
	}

	type row struct {
		name    string
		points  int
		rankStr string
	}
	rows := make([]row, 0, len(players))
	for _, p := range players {
		snap := p.Solo
		if mode == "doubleup" {
			snap = p.DoubleUp
		}
		rows = append(rows, row{
			name:    p.RiotID(),
			points:  domain.RankScore(snap),
			rankStr: domain.FormatRank(snap),
		})
	}
	sort.SliceStable(rows, func(a, b int) bool { return rows[a].points > rows[b].points })

	var sb strings.Builder
	title := "Solo"
	if mode == "doubleup" {
		title = "Double Up"
	}
	fmt.Fprintf(&sb, "Leaderboard %s:\n", title)
	for idx, r := range rows {
		fmt.Fprintf(&sb, "%d. %s - %s\n", idx+1, r.name, r.rankStr)
	}
	reply(s, i, sb.String())
}

func optionMap(i *discordgo.InteractionCreate) map[string]string {
	opts := make(map[string]string)
	for _, opt := range i.ApplicationCommandData().Options {
		if opt.Type == discordgo.ApplicationCommandOptionString {
			opts[opt.Name] = opt.StringValue()
		}
	}
	return opts
}

func deferReply(s *discordgo.Session, i *discordgo.InteractionCreate) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
	})
}

func followUp(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_, _ = s.FollowupMessageCreate(i.Interaction, true, &discordgo.WebhookParams{Content: content})
}

func reply(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
}
