package engine

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// watchCorpus folds seed files dropped into the corpus directory by external
// tooling into the live run. It returns when ctx is cancelled.
func watchCorpus(ctx context.Context, corpus *Corpus) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(corpus.Dir()); err != nil {
		return err
	}

	log.Debug().Str("dir", corpus.Dir()).Msg("Watching corpus directory for new seeds")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			added, err := corpus.AddFromFile(event.Name)
			if err != nil {
				log.Debug().Err(err).Str("file", event.Name).Msg("Could not read new corpus file")
				continue
			}
			if added {
				log.Info().Str("file", event.Name).Msg("New seed picked up from corpus directory")
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Corpus watcher error")
		}
	}
}
