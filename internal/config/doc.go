// Package config handles configuration loading for errand-bot.
//
// # Overview
//
// Configuration is read from a TOML file (or YAML, chosen by the .yaml/.yml
// extension) with environment variable expansion, then defaults are applied
// and the result is validated.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from ERRAND_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/errand/bot.toml
//  3. ~/.config/errand/bot.toml
//
// `errand-bot init` writes a commented starting point to the default location.
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	[llm]
//	api_key = "${GROQ_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// telegram.poll_timeout, web.timeout and alerts.poll_interval use Go's
// time.ParseDuration syntax ("30s", "2m").
//
// # Sections
//
//	[transport]     kind = telegram | matrix
//	[telegram]      bot_token, base_url, poll_timeout, allowed_chat_ids
//	[matrix]        homeserver, user_id, access_token, recovery_key, allowed_rooms, data_dir
//	[llm]           api_key, base_url, model, summary_prompt
//	[web]           user_agent, max_body_bytes, timeout
//	[speech]        command, args ({output}; text on stdin, {text} only after "--"), extension
//	[alerts]        poll_interval, price_api_url, currency, [alerts.symbols]
//	[conversation]  reentry = reject | restart
//	[files]         work_dir
//	[database]      path (empty disables the ledger)
//	[metrics]       enabled, addr
//	[tracing]       endpoint, insecure
//	[logging]       level, format
//
// # Usage
//
//	cfg, err := config.Load(config.DefaultPath())
//	if err != nil {
//	    return err
//	}
package config
