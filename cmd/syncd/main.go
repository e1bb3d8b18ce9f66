// syncd — клиентская сторона: репозитории над долговременным
// хранилищем плюс координаторы синхронизации с удалённым record-API.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"

	"sklad/internal/config"
	"sklad/internal/lrsync"
	"sklad/internal/remote"
	"sklad/internal/repo"
	"sklad/internal/schema"
	"sklad/internal/storage"
)

func openAdapter(cfg config.Config) (storage.Adapter, error) {
	switch cfg.StateDriver {
	case "", "memory":
		return storage.NewMemory(), nil
	case "sqlite":
		return storage.NewSQLite(cfg.SQLitePath)
	case "postgres":
		return storage.NewPostgres(cfg.DBURL)
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.StateDriver)
	}
}

func main() {
	cfg := config.LoadWithPath("config.json")
	defer glog.Flush()

	if cfg.RemoteURL == "" {
		log.Fatal("syncd: remote URL is required (-remote)")
	}

	schemas, err := schema.LoadAll(cfg.SchemaDir)
	if err != nil {
		log.Fatalf("Ошибка загрузки схем: %v", err)
	}
	if cfg.YAMLDir != "" {
		yamlSchemas, err := schema.LoadYAMLCatalog(cfg.YAMLDir)
		if err != nil {
			log.Fatalf("Ошибка загрузки YAML-каталога: %v", err)
		}
		for fqn, sch := range yamlSchemas {
			schemas[fqn] = sch
		}
	}

	ad, err := openAdapter(cfg)
	if err != nil {
		log.Fatalf("Ошибка хранилища состояния: %v", err)
	}

	ctx := context.Background()
	coords := make([]*lrsync.Coordinator, 0, len(schemas))
	for fqn, sch := range schemas {
		local, err := repo.NewOfflineRepository(sch, ad, repo.Config{})
		if err != nil {
			log.Fatalf("Репозиторий %s: %v", fqn, err)
		}
		if err := local.Load(ctx); err != nil {
			log.Fatalf("Загрузка %s: %v", fqn, err)
		}
		client := remote.NewClient(cfg.RemoteURL, sch, nil)
		co, err := lrsync.New(local, client, lrsync.Config{
			Mode:      lrsync.Mode(cfg.SyncMode),
			SyncRate:  time.Duration(cfg.SyncRate) * time.Second,
			RetryRate: time.Duration(cfg.RetryRate) * time.Second,
		})
		if err != nil {
			log.Fatalf("Координатор %s: %v", fqn, err)
		}
		coords = append(coords, co)
		glog.Infof("syncd: %s синхронизируется в режиме %s", fqn, cfg.SyncMode)
	}
	fmt.Printf("syncd: %d сущностей, режим %s, удалённый %s\n",
		len(coords), cfg.SyncMode, cfg.RemoteURL)

	// первый цикл сразу, дальше по таймерам координаторов
	for _, co := range coords {
		if err := co.Sync(ctx); err != nil {
			glog.Warningf("syncd: начальная синхронизация: %v", err)
		}
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	for _, co := range coords {
		co.Destroy()
	}
}
