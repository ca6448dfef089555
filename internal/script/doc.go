// Package script выполняет inline-скрипты шагов kind=code.
//
// Скрипт JavaScript выполняется в goja runtime, в глобальной области
// которого оставлены только безопасные встроенные объекты. Скрипту
// доступны:
//   - input   — отрендеренный вход шага;
//   - inputs  — входы run;
//   - steps   — output предыдущих шагов;
//   - context — {inputs, steps};
//   - console — log/info/warn/error/debug, вывод захватывается.
//
// Пример:
//
//	const total = input.items.reduce((s, i) => s + i.price, 0);
//	console.info("total", total);
//	return { total };
package script
