// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

/*
Package styles provides the visual styling system for chatmark's terminal output.

All colors use Lip Gloss AdaptiveColor for automatic light/dark terminal
detection. A Theme binds a full set of block, inline and chrome styles to one
lipgloss renderer.

# Color System (colors.go)

  - Purple, Cyan - Headings and speaker labels
  - Emerald, Rose, Amber - Success, error and warning states
  - TextPrimary, TextSecondary, TextMuted - Body, secondary and hint text
  - LinkColor - Link labels, always underlined

# Theme (theme.go)

	theme := styles.NewTheme(cfg.Render.Theme)
	fmt.Println(theme.Heading1.Render("SUMMARY"))

NO_COLOR in the environment forces the ASCII profile. PlainTheme returns a
theme that never emits escape sequences, used when stdout is not a terminal.
*/
package styles
