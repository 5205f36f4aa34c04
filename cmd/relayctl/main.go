// relayctl — клиент relayd: отпечатки ключей, подписанная загрузка
// shared-файлов, проверка наличия, управление relay и remote run.
package main

import (
	"os"

	"github.com/bigkaa/relayd/cmd/relayctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
