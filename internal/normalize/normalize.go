package normalize

import (
	"encoding/json"
	"strings"
	"time"

	"relic-crawler/internal/domain"
)

// Input is one raw match-history payload plus the crawl context it was
// fetched under. SelfProfileID is the player the crawl was seeded from;
// it is never reported as discovered.
type Input struct {
	Payload       map[string]any
	SelfProfileID string
	SourceAlias   string
	Now           time.Time
}

// profileMeta is what the payload's top-level profile list knows about
// a player. Its alias takes precedence over per-member aliases.
type profileMeta struct {
	alias       string
	country     string
	steamID64   *string
	statgroupID *int64
	xp          *int64
	level       *int64
}

// Normalize turns one raw payload into typed row sets. It is pure: no
// I/O, no mutation of the input. A malformed entry is skipped without
// aborting the rest of the payload.
func Normalize(in Input) *domain.NormalizedRows {
	now := in.Now.UTC()
	rows := &domain.NormalizedRows{AliasHints: make(map[string]string)}

	profiles := profileIndex(in.Payload)

	seenPlayers := make(map[string]bool)
	seenAliases := make(map[string]bool)
	seenDiscovered := make(map[string]bool)

	for _, raw := range listField(in.Payload, "matchHistoryStats", "matchhistorystats") {
		entry, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		matchID, ok := stringID(first(entry, "id", "match_id", "matchId"))
		if !ok {
			continue
		}

		match := matchRow(entry, matchID, now)
		match.SourceAlias = sourceAlias(in, profiles)

		members := listField(entry, "matchhistorymember", "matchHistoryMember", "members")
		for _, rawMember := range members {
			member, ok := rawMember.(map[string]any)
			if !ok {
				continue
			}
			profileID, ok := stringID(first(member, "profile_id", "profileId"))
			if !ok {
				continue
			}

			alias := resolveAlias(profileID, member, profiles)
			rows.Participants = appendParticipant(rows.Participants, participantRow(member, matchID, profileID, alias))

			if !seenPlayers[profileID] {
				seenPlayers[profileID] = true
				rows.Players = append(rows.Players, playerRow(member, profileID, alias, profiles[profileID], now))
			}
			if alias != "" {
				if key := profileID + "\x00" + alias; !seenAliases[key] {
					seenAliases[key] = true
					rows.AliasHistory = append(rows.AliasHistory, domain.AliasHistory{
						ProfileID:   profileID,
						Alias:       alias,
						FirstSeenAt: now,
						LastSeenAt:  now,
					})
				}
				rows.AliasHints[profileID] = alias
			}
			if profileID != in.SelfProfileID && !seenDiscovered[profileID] {
				seenDiscovered[profileID] = true
				rows.DiscoveredProfileIDs = append(rows.DiscoveredProfileIDs, profileID)
			}
		}

		rows.Matches = append(rows.Matches, match)
		rows.RawPayloads = append(rows.RawPayloads, rawPayloadRow(entry, members, matchID, now))
	}

	return rows
}

// EnrichedPlayer extracts player enrichment fields from a personal-stat
// payload: the first stat-group member carries xp, level, alias and
// country. Returns false when no member is resolvable.
func EnrichedPlayer(payload map[string]any, now time.Time) (domain.Player, bool) {
	for _, rawGroup := range listField(payload, "statGroups", "statgroups") {
		group, ok := rawGroup.(map[string]any)
		if !ok {
			continue
		}
		for _, rawMember := range listField(group, "members") {
			member, ok := rawMember.(map[string]any)
			if !ok {
				continue
			}
			profileID, ok := stringID(first(member, "profile_id", "profileId"))
			if !ok {
				continue
			}
			player := domain.Player{ProfileID: profileID, LastSeenAt: now.UTC()}
			if alias, ok := nonEmptyString(first(member, "alias", "Alias")); ok {
				player.CurrentAlias = alias
			}
			if country, ok := nonEmptyString(first(member, "country")); ok {
				player.Country = country
			}
			if steam, ok := steamIDFromName(first(member, "name")); ok {
				player.SteamID64 = &steam
			}
			if xp, ok := finiteInt(first(member, "xp")); ok {
				player.XP = &xp
			}
			if level, ok := finiteInt(first(member, "level")); ok {
				player.Level = &level
			}
			if sg, ok := finiteInt(first(member, "personal_statgroup_id", "personalStatgroupId")); ok {
				player.StatgroupID = &sg
			}
			return player, true
		}
	}
	return domain.Player{}, false
}

func matchRow(entry map[string]any, matchID string, now time.Time) domain.Match {
	match := domain.Match{MatchID: matchID, CrawledAt: now}

	if v, ok := finiteInt(first(entry, "matchtype_id", "matchTypeId")); ok {
		match.MatchTypeID = &v
	}
	if v, ok := nonEmptyString(first(entry, "mapname", "mapName", "map")); ok {
		match.MapName = v
	}
	if v, ok := nonEmptyString(first(entry, "description")); ok {
		match.Description = v
	}
	if v, ok := finiteInt(first(entry, "maxplayers", "maxPlayers")); ok {
		match.MaxPlayers = &v
	}
	if v, ok := stringID(first(entry, "creator_profile_id", "creatorProfileId")); ok {
		match.CreatorProfileID = &v
	}
	if v, ok := timeFromEpoch(first(entry, "startgametime", "startGameTime")); ok {
		match.StartedAt = &v
	}
	if v, ok := timeFromEpoch(first(entry, "completiontime", "completionTime")); ok {
		match.CompletedAt = &v
	}
	if match.StartedAt != nil && match.CompletedAt != nil {
		seconds := int64(match.CompletedAt.Sub(*match.StartedAt) / time.Second)
		match.DurationSeconds = &seconds
	}
	if v, ok := finiteInt(first(entry, "observertotal", "observerTotal")); ok {
		match.ObserverTotal = &v
	}
	if v, ok := blobString(first(entry, "options")); ok {
		match.OptionsBlob = &v
	}
	if v, ok := blobString(first(entry, "slotinfo", "slotInfo")); ok {
		match.SlotInfoBlob = &v
	}
	return match
}

func participantRow(member map[string]any, matchID, profileID, alias string) domain.MatchParticipant {
	p := domain.MatchParticipant{
		MatchID:      matchID,
		ProfileID:    profileID,
		AliasAtMatch: alias,
		Outcome:      domain.OutcomeUnknown,
	}

	if v, ok := finiteInt(first(member, "outcome", "resulttype", "resultType")); ok {
		p.OutcomeRaw = &v
		switch v {
		case 1:
			p.Outcome = domain.OutcomeWin
		case 0:
			p.Outcome = domain.OutcomeLoss
		}
	}
	if v, ok := finiteInt(first(member, "teamid", "teamId")); ok {
		p.TeamID = &v
	}
	if v, ok := finiteInt(first(member, "race_id", "raceId")); ok {
		p.RaceID = &v
	}
	if v, ok := finiteInt(first(member, "statgroup_id", "statgroupId")); ok {
		p.StatgroupID = &v
	}
	if v, ok := finiteInt(first(member, "wins")); ok {
		p.Wins = &v
	}
	if v, ok := finiteInt(first(member, "losses")); ok {
		p.Losses = &v
	}
	if v, ok := finiteInt(first(member, "streak")); ok {
		p.Streak = &v
	}
	if v, ok := finiteInt(first(member, "arbitration")); ok {
		p.Arbitration = &v
	}
	if v, ok := finiteInt(first(member, "reporttype", "reportType")); ok {
		p.ReportType = &v
	}
	if v, ok := boolish(first(member, "is_computer", "isComputer")); ok {
		p.IsComputer = v
	}

	oldRating, hasOld := finiteNumber(first(member, "oldrating", "oldRating"))
	newRating, hasNew := finiteNumber(first(member, "newrating", "newRating"))
	if hasOld {
		p.OldRating = &oldRating
	}
	if hasNew {
		p.NewRating = &newRating
	}
	if hasOld && hasNew {
		delta := newRating - oldRating
		p.RatingDelta = &delta
	}
	return p
}

func playerRow(member map[string]any, profileID, alias string, meta profileMeta, now time.Time) domain.Player {
	player := domain.Player{
		ProfileID:    profileID,
		CurrentAlias: alias,
		Country:      meta.country,
		SteamID64:    meta.steamID64,
		XP:           meta.xp,
		Level:        meta.level,
		StatgroupID:  meta.statgroupID,
		LastSeenAt:   now,
	}
	if player.StatgroupID == nil {
		if v, ok := finiteInt(first(member, "statgroup_id", "statgroupId")); ok {
			player.StatgroupID = &v
		}
	}
	if player.SteamID64 == nil {
		if steam, ok := steamIDFromName(first(member, "name")); ok {
			player.SteamID64 = &steam
		}
	}
	return player
}

func rawPayloadRow(entry map[string]any, members []any, matchID string, now time.Time) domain.RawMatchPayload {
	archived := any(entry)
	if len(members) > 0 {
		archived = members
	}
	encoded, err := json.Marshal(archived)
	if err != nil {
		encoded = []byte("null")
	}
	return domain.RawMatchPayload{MatchID: matchID, Payload: string(encoded), CrawledAt: now}
}

// profileIndex builds the alias-resolution map from the payload's
// top-level profile list. These pairs are authoritative for the whole
// payload and win over per-member alias fields.
func profileIndex(payload map[string]any) map[string]profileMeta {
	index := make(map[string]profileMeta)
	for _, raw := range listField(payload, "profiles", "profileList") {
		profile, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		profileID, ok := stringID(first(profile, "profile_id", "profileId", "id"))
		if !ok {
			continue
		}
		meta := index[profileID]
		if alias, ok := nonEmptyString(first(profile, "alias", "Alias")); ok {
			meta.alias = alias
		}
		if country, ok := nonEmptyString(first(profile, "country")); ok {
			meta.country = country
		}
		if steam, ok := steamIDFromName(first(profile, "name")); ok {
			meta.steamID64 = &steam
		}
		if sg, ok := finiteInt(first(profile, "personal_statgroup_id", "personalStatgroupId")); ok {
			meta.statgroupID = &sg
		}
		if xp, ok := finiteInt(first(profile, "xp")); ok {
			meta.xp = &xp
		}
		if level, ok := finiteInt(first(profile, "level")); ok {
			meta.level = &level
		}
		index[profileID] = meta
	}
	return index
}

func resolveAlias(profileID string, member map[string]any, profiles map[string]profileMeta) string {
	if meta, ok := profiles[profileID]; ok && meta.alias != "" {
		return meta.alias
	}
	if alias, ok := nonEmptyString(first(member, "alias", "Alias")); ok {
		return alias
	}
	// the name field doubles as a steam path; only use it as an alias
	// when it is a plain display name
	if name, ok := nonEmptyString(first(member, "name")); ok && !strings.HasPrefix(name, "/steam/") {
		return name
	}
	return ""
}

func sourceAlias(in Input, profiles map[string]profileMeta) string {
	if in.SourceAlias != "" {
		return in.SourceAlias
	}
	if meta, ok := profiles[in.SelfProfileID]; ok {
		return meta.alias
	}
	return ""
}

func steamIDFromName(v any) (string, bool) {
	name, ok := nonEmptyString(v)
	if !ok || !strings.HasPrefix(name, "/steam/") {
		return "", false
	}
	id := strings.TrimPrefix(name, "/steam/")
	if id == "" {
		return "", false
	}
	return id, true
}

// blobString serializes a raw sub-object for forward compatibility.
// Strings (the usual base64 form) pass through untouched.
func blobString(v any) (string, bool) {
	if v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		if s == "" {
			return "", false
		}
		return s, true
	}
	encoded, err := json.Marshal(v)
	if err != nil {
		return "", false
	}
	return string(encoded), true
}

func appendParticipant(participants []domain.MatchParticipant, p domain.MatchParticipant) []domain.MatchParticipant {
	for _, existing := range participants {
		if existing.MatchID == p.MatchID && existing.ProfileID == p.ProfileID {
			return participants
		}
	}
	return append(participants, p)
}

func listField(m map[string]any, names ...string) []any {
	v, ok := field(m, names...)
	if !ok {
		return nil
	}
	list, _ := v.([]any)
	return list
}

// first is field() without the presence flag, for feeding coercers.
func first(m map[string]any, names ...string) any {
	v, _ := field(m, names...)
	return v
}
