// Command noticemirror serves and refreshes the PSC notice mirror.
package main

import "github.com/loksewa/noticemirror/cmd"

func main() {
	cmd.Execute()
}
