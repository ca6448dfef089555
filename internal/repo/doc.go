// Package repo хранит журнал runs: статус run и записанные один раз
// результаты шагов.
//
// RunRepo пишет в PostgreSQL через pgx, MemoryJournal держит всё в памяти.
package repo
