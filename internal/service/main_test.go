package service

import (
	"os"
	"testing"

	"github.com/gin280/doc-qa-system-sub000/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("info", "json", "")
	os.Exit(m.Run())
}
