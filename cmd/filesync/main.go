package main

import (
	_ "github.com/gobeaver/filesync/driver/azure"
	_ "github.com/gobeaver/filesync/driver/gcs"
	_ "github.com/gobeaver/filesync/driver/local"
	_ "github.com/gobeaver/filesync/driver/memory"
	_ "github.com/gobeaver/filesync/driver/s3"
	_ "github.com/gobeaver/filesync/driver/sftp"
	"github.com/gobeaver/filesync/internal/cli"
)

func main() {
	cli.Execute()
}
