// Package config loads, merges and watches AIPex configuration.
//
// # Configuration Loading
//
// Load searches for configuration in priority order, later sources
// overriding earlier ones:
//
//  1. Global config ($XDG_CONFIG_HOME/aipex/aipex.json or aipex.jsonc)
//  2. Project config (<dir>/aipex.json[c] and <dir>/.aipex/aipex.json[c])
//  3. AIPEX_CONFIG file
//  4. AIPEX_CONFIG_CONTENT inline JSON
//  5. Environment variables
//
// Files may contain comments (JSONC, stripped with tidwall/jsonc) and two
// kinds of placeholder:
//   - {env:VAR_NAME} expands to an environment variable
//   - {file:path} expands to file contents, escaped for a JSON string
//
// Relative {file:} paths and toolCatalog paths resolve against the directory
// of the file that names them.
//
//	{
//	  "model": "gpt-4o-mini",
//	  "apiKey": "{env:OPENAI_API_KEY}",
//	  "systemPrompt": "{file:prompts/browser.md}",
//	  "toolCatalog": "tools.yaml",
//	  "disabledTools": ["debug_*"]
//	}
//
// # Environment Variable Overrides
//
//   - AIPEX_API_KEY, falling back to OPENAI_API_KEY when no key is configured
//   - AIPEX_MODEL
//   - AIPEX_ENDPOINT
//   - AIPEX_LOG_LEVEL
//
// # Tool Catalogs
//
// LoadToolCatalog reads tool definitions from YAML or JSON, either as a bare
// list or under a "tools" key. Catalog tools merge with inline tools by name.
//
// # Hot Reload
//
// Watcher watches the files Load read and calls back with the reloaded
// configuration after they change. A reload that fails to parse is logged
// and ignored.
package config
