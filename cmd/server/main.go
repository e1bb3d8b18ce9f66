package main

import (
	"fmt"
	"log"

	"sklad/internal/api"
	"sklad/internal/config"
	"sklad/internal/schema"
)

func main() {
	cfg := config.LoadWithPath("config.json")

	// 1. Загружаем DSL-схемы
	schemas, err := schema.LoadAll(cfg.SchemaDir)
	if err != nil {
		log.Fatalf("Ошибка загрузки схем: %v", err)
	}

	// 2. Дополняем YAML-каталогами (если настроены)
	if cfg.YAMLDir != "" {
		yamlSchemas, err := schema.LoadYAMLCatalog(cfg.YAMLDir)
		if err != nil {
			log.Fatalf("Ошибка загрузки YAML-каталога: %v", err)
		}
		for fqn, sch := range yamlSchemas {
			schemas[fqn] = sch
		}
	}
	fmt.Printf("Загружено схем: %d\n", len(schemas))

	// 3. In-memory хранилище записей + REST API
	storage := api.NewStorage(schemas)
	fmt.Printf("Стартуем record-сервер на :%s...\n", cfg.Port)
	api.RunServer(":"+cfg.Port, storage)
}
