// Package chat connects the tag store to Twitch chat.
//
// It provides three pieces:
//   - Ingestor: joins the configured channels over IRC. A message starting with
//     a backtick becomes a tag on the channel's current stream, a moderator
//     deleting that message tombstones the tag, "!adjust <n>" shifts the
//     author's latest tag and a "⭐" reply to a tag stars it.
//   - Recent: an in-memory window of the messages the ingestor saw, usable as a
//     backfill history source.
//   - RechatHistory: a backfill history source that replays the chat of a
//     channel's archived broadcast from Twitch's rechat endpoint.
//
// Credentials: the IRC client needs a bot username and an OAuth token with the
// chat:read scope. Without them the ingestor logs and stays idle.
package chat
